// Package ledger owns the payment-status state machine shared by sales and
// purchases. Status is a pure function of (amountPaid, totalAmount) so it can
// be re-derived at any time regardless of how amountPaid was reached.
package ledger

import (
	"fmt"

	"tokopos/backend/internal/domain"
)

func DeriveStatus(amountPaidCents int64, totalCents int64) domain.PaymentStatus {
	switch {
	case amountPaidCents >= totalCents:
		return domain.StatusPaid
	case amountPaidCents > 0:
		return domain.StatusPartial
	default:
		return domain.StatusUnpaid
	}
}

// Change is positive when the payer tendered more than the total (change
// handed back) and negative when a receivable/payable remains outstanding.
func Change(amountPaidCents int64, totalCents int64) int64 {
	return amountPaidCents - totalCents
}

func Outstanding(amountPaidCents int64, totalCents int64) int64 {
	if amountPaidCents >= totalCents {
		return 0
	}
	return totalCents - amountPaidCents
}

// PaymentMismatchError reports an initial payment that violates the payment
// method rules at record creation.
type PaymentMismatchError struct {
	Method      domain.PaymentMethod
	AmountCents int64
	TotalCents  int64
}

func (e PaymentMismatchError) Error() string {
	return fmt.Sprintf("payment %d inconsistent with method %s for total %d", e.AmountCents, e.Method, e.TotalCents)
}

// InstallmentError reports an invalid installment amount against the
// outstanding balance of a record.
type InstallmentError struct {
	AmountCents      int64
	OutstandingCents int64
}

func (e InstallmentError) Error() string {
	return fmt.Sprintf("installment %d invalid against outstanding %d", e.AmountCents, e.OutstandingCents)
}

// ValidateCreation enforces the creation-time payment rules: deferred records
// may start at any amount up to the total (including 0, which opens a
// receivable), while cash and transfer must settle the total up front. Any
// excess is change, never debt.
func ValidateCreation(method domain.PaymentMethod, amountPaidCents int64, totalCents int64) error {
	if amountPaidCents < 0 {
		return PaymentMismatchError{Method: method, AmountCents: amountPaidCents, TotalCents: totalCents}
	}
	switch method {
	case domain.PayDeferred:
		if amountPaidCents > totalCents {
			return PaymentMismatchError{Method: method, AmountCents: amountPaidCents, TotalCents: totalCents}
		}
	case domain.PayCash, domain.PayTransfer:
		if amountPaidCents < totalCents {
			return PaymentMismatchError{Method: method, AmountCents: amountPaidCents, TotalCents: totalCents}
		}
	default:
		return fmt.Errorf("unknown payment method %q", method)
	}
	return nil
}

// ValidateInstallment rejects non-positive amounts and amounts beyond the
// outstanding balance. Installments settle debt; they never produce change.
func ValidateInstallment(outstandingCents int64, amountCents int64) error {
	if amountCents < 1 || amountCents > outstandingCents {
		return InstallmentError{AmountCents: amountCents, OutstandingCents: outstandingCents}
	}
	return nil
}

// Apply returns the post-installment paid amount and re-derived status.
func Apply(amountPaidCents int64, totalCents int64, installmentCents int64) (int64, domain.PaymentStatus) {
	paid := amountPaidCents + installmentCents
	return paid, DeriveStatus(paid, totalCents)
}
