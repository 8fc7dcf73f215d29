package domain

import "time"

// SaleLineRequest references a product by SKU (scan-matchable) with the tier
// the cashier picked. Quantity defaults to 1 when omitted.
type SaleLineRequest struct {
	SKU  string    `json:"sku"`
	Tier PriceTier `json:"tier"`
	Qty  int       `json:"qty"`
}

type SaleRequest struct {
	CustomerID      string            `json:"customer_id,omitempty"`
	Date            *time.Time        `json:"date,omitempty"`
	Lines           []SaleLineRequest `json:"lines"`
	DiscountType    DiscountType      `json:"discount_type,omitempty"`
	DiscountValue   float64           `json:"discount_value,omitempty"`
	PaymentMethod   PaymentMethod     `json:"payment_method"`
	AmountPaidCents int64             `json:"amount_paid_cents"`
	BankRef         string            `json:"bank_ref,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
}

type PurchaseLineRequest struct {
	SKU           string `json:"sku"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type PurchaseRequest struct {
	SupplierID      string                `json:"supplier_id"`
	Date            *time.Time            `json:"date,omitempty"`
	Lines           []PurchaseLineRequest `json:"lines"`
	DiscountType    DiscountType          `json:"discount_type,omitempty"`
	DiscountValue   float64               `json:"discount_value,omitempty"`
	PaymentMethod   PaymentMethod         `json:"payment_method"`
	AmountPaidCents int64                 `json:"amount_paid_cents"`
	BankRef         string                `json:"bank_ref,omitempty"`
	IdempotencyKey  string                `json:"idempotency_key,omitempty"`
}

type SaleResponse struct {
	Transaction Transaction `json:"transaction"`
	ChangeCents int64       `json:"change_cents"`
	Duplicate   bool        `json:"duplicate"`
}

type PurchaseResponse struct {
	Purchase    Purchase `json:"purchase"`
	ChangeCents int64    `json:"change_cents"`
	Duplicate   bool     `json:"duplicate"`
}

type InstallmentRequest struct {
	AmountCents int64         `json:"amount_cents"`
	Method      PaymentMethod `json:"method"`
	BankRef     string        `json:"bank_ref,omitempty"`
	Note        string        `json:"note,omitempty"`
	Date        *time.Time    `json:"date,omitempty"`
}

// ManualAdjustmentRequest supplies the delta directly.
type ManualAdjustmentRequest struct {
	SKU       string          `json:"sku"`
	Direction AdjustDirection `json:"direction"`
	Qty       int             `json:"qty"`
	Reason    AdjustReason    `json:"reason"`
}

// OpnameRequest supplies the physically observed count; the journal computes
// the delta against system stock.
type OpnameRequest struct {
	SKU        string       `json:"sku"`
	FinalCount int          `json:"final_count"`
	Reason     AdjustReason `json:"reason"`
}

// OpnameResponse carries the recorded adjustment, or a nil Adjustment when
// the observed count matched system stock and nothing was journaled.
type OpnameResponse struct {
	Adjustment *StockAdjustment `json:"adjustment,omitempty"`
	NoChange   bool             `json:"no_change"`
}

type ReturnLineRequest struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type ReturnRequest struct {
	OriginalRecordID string              `json:"original_record_id"`
	Lines            []ReturnLineRequest `json:"lines"`
	PaymentMethod    PaymentMethod       `json:"payment_method,omitempty"`
	BankRef          string              `json:"bank_ref,omitempty"`
	Note             string              `json:"note,omitempty"`
}

type SaleReturnHistory struct {
	OriginalRecordID   string        `json:"original_record_id"`
	Returns            []Transaction `json:"returns"`
	TotalReturnedCents int64         `json:"total_returned_cents"`
}

type PurchaseReturnHistory struct {
	OriginalRecordID   string     `json:"original_record_id"`
	Returns            []Purchase `json:"returns"`
	TotalReturnedCents int64      `json:"total_returned_cents"`
}

type CustomerCreateRequest struct {
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	DefaultTier PriceTier `json:"default_tier,omitempty"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type GlobalBalanceResponse struct {
	Year             int   `json:"year"`
	OutstandingCents int64 `json:"outstanding_cents"`
	RecordCount      int   `json:"record_count"`
}
