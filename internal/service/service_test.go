package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokopos/backend/internal/cart"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/ledger"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, nil, 5*time.Second), repo
}

func testActor() domain.Actor {
	return domain.Actor{Username: "admin", Role: "admin"}
}

func cashSale(lines ...domain.SaleLineRequest) domain.SaleRequest {
	return domain.SaleRequest{
		Lines:           lines,
		PaymentMethod:   domain.PayCash,
		AmountPaidCents: 1 << 40, // generous tender, change absorbs the rest
	}
}

func TestCreateSaleComputesTotalsAndChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 2}},
		PaymentMethod:   domain.PayCash,
		AmountPaidCents: 10000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if resp.Transaction.TotalCents != 7000 {
		t.Fatalf("total = %d, want 7000", resp.Transaction.TotalCents)
	}
	if resp.ChangeCents != 3000 {
		t.Fatalf("change = %d, want 3000", resp.ChangeCents)
	}
	if resp.Transaction.PaymentStatus != domain.StatusPaid {
		t.Fatalf("status = %s, want paid", resp.Transaction.PaymentStatus)
	}
	if resp.Transaction.InvoiceNumber == "" {
		t.Fatalf("expected assigned invoice number")
	}

	product, err := svc.GetProductBySKU(ctx, "SKU-MIE-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 118 {
		t.Fatalf("stock after sale = %d, want 118", product.Stock)
	}
}

func TestCreateSaleUsesCustomerDefaultTier(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateSale(context.Background(), testActor(), domain.SaleRequest{
		CustomerID:      "cst-warung-sari", // wholesale customer
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Qty: 1}},
		PaymentMethod:   domain.PayCash,
		AmountPaidCents: 3000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if got := resp.Transaction.Items[0].UnitPriceCents; got != 3000 {
		t.Fatalf("expected wholesale price 3000, got %d", got)
	}
}

func TestCreateSaleRejectsZeroPriceTier(t *testing.T) {
	svc, _ := newTestService()

	// SKU-TELUR-01 has no promo price set.
	_, err := svc.CreateSale(context.Background(), testActor(),
		cashSale(domain.SaleLineRequest{SKU: "SKU-TELUR-01", Tier: domain.TierPromo, Qty: 1}))
	var zero cart.ZeroPriceError
	if !errors.As(err, &zero) {
		t.Fatalf("expected ZeroPriceError, got %v", err)
	}
}

func TestCreateSaleRejectsOversizedDiscount(t *testing.T) {
	svc, _ := newTestService()

	req := cashSale(domain.SaleLineRequest{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 1})
	req.DiscountType = domain.DiscountPercentage
	req.DiscountValue = 150

	_, err := svc.CreateSale(context.Background(), testActor(), req)
	var rangeErr cart.DiscountRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected DiscountRangeError for 150%%, got %v", err)
	}
}

func TestCreateSaleStockCeilingAcrossTiers(t *testing.T) {
	svc, _ := newTestService()

	// SKU-BERAS-01 has stock 40: 30 retail + 11 wholesale crosses it.
	_, err := svc.CreateSale(context.Background(), testActor(), cashSale(
		domain.SaleLineRequest{SKU: "SKU-BERAS-01", Tier: domain.TierRetail, Qty: 30},
		domain.SaleLineRequest{SKU: "SKU-BERAS-01", Tier: domain.TierWholesale, Qty: 11},
	))
	var exceeded cart.StockExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected StockExceededError, got %v", err)
	}

	// 30 + 10 exactly drains it.
	resp, err := svc.CreateSale(context.Background(), testActor(), cashSale(
		domain.SaleLineRequest{SKU: "SKU-BERAS-01", Tier: domain.TierRetail, Qty: 30},
		domain.SaleLineRequest{SKU: "SKU-BERAS-01", Tier: domain.TierWholesale, Qty: 10},
	))
	if err != nil {
		t.Fatalf("exact drain should commit: %v", err)
	}
	if len(resp.Transaction.Items) != 2 {
		t.Fatalf("expected two tier lines, got %d", len(resp.Transaction.Items))
	}

	product, err := svc.GetProductBySKU(context.Background(), "SKU-BERAS-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("stock = %d, want 0", product.Stock)
	}
}

func TestCreateSaleTransferRequiresBankRef(t *testing.T) {
	svc, _ := newTestService()

	req := domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 1}},
		PaymentMethod:   domain.PayTransfer,
		AmountPaidCents: 3500,
	}
	_, err := svc.CreateSale(context.Background(), testActor(), req)
	var missing cart.MissingBankRefError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingBankRefError, got %v", err)
	}

	req.BankRef = "TRF-2026-001"
	if _, err := svc.CreateSale(context.Background(), testActor(), req); err != nil {
		t.Fatalf("transfer with bank ref: %v", err)
	}
}

func TestCreateSaleCashBelowTotalRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateSale(context.Background(), testActor(), domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 2}},
		PaymentMethod:   domain.PayCash,
		AmountPaidCents: 6999,
	})
	var mismatch ledger.PaymentMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected PaymentMismatchError, got %v", err)
	}
}

func TestCreateSaleIdempotencyReplay(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := cashSale(domain.SaleLineRequest{SKU: "SKU-KOPI-01", Tier: domain.TierRetail, Qty: 5})
	req.IdempotencyKey = "idem-sale-1"

	first, err := svc.CreateSale(ctx, testActor(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.CreateSale(ctx, testActor(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay returned a different record")
	}

	product, err := svc.GetProductBySKU(ctx, "SKU-KOPI-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 195 {
		t.Fatalf("stock deducted twice: %d, want 195", product.Stock)
	}
}

func TestDeferredSaleInstallmentWalk(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// 10 x gula retail = 174000, opened with nothing down.
	resp, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		CustomerID:      "cst-warung-sari",
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-GULA-01", Tier: domain.TierRetail, Qty: 10}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 0,
	})
	if err != nil {
		t.Fatalf("open deferred sale: %v", err)
	}
	if resp.Transaction.PaymentStatus != domain.StatusUnpaid {
		t.Fatalf("status = %s, want unpaid", resp.Transaction.PaymentStatus)
	}
	id := resp.Transaction.ID

	tx, err := svc.RecordSalePayment(ctx, testActor(), id, domain.InstallmentRequest{AmountCents: 74000})
	if err != nil {
		t.Fatalf("first installment: %v", err)
	}
	if tx.PaymentStatus != domain.StatusPartial || tx.AmountPaidCents != 74000 {
		t.Fatalf("after first installment: status=%s paid=%d", tx.PaymentStatus, tx.AmountPaidCents)
	}
	if len(tx.PaymentHistory) != 1 {
		t.Fatalf("payment history entries = %d, want 1", len(tx.PaymentHistory))
	}

	tx, err = svc.RecordSalePayment(ctx, testActor(), id, domain.InstallmentRequest{AmountCents: 100000})
	if err != nil {
		t.Fatalf("final installment: %v", err)
	}
	if tx.PaymentStatus != domain.StatusPaid || tx.AmountPaidCents != 174000 {
		t.Fatalf("after final installment: status=%s paid=%d", tx.PaymentStatus, tx.AmountPaidCents)
	}

	// A settled record accepts no further installments.
	_, err = svc.RecordSalePayment(ctx, testActor(), id, domain.InstallmentRequest{AmountCents: 1})
	var instErr ledger.InstallmentError
	if !errors.As(err, &instErr) {
		t.Fatalf("expected InstallmentError on settled record, got %v", err)
	}
}

func TestInstallmentOverOutstandingRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 2}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 0,
	})
	if err != nil {
		t.Fatalf("open deferred sale: %v", err)
	}

	_, err = svc.RecordSalePayment(ctx, testActor(), resp.Transaction.ID, domain.InstallmentRequest{AmountCents: 7001})
	var instErr ledger.InstallmentError
	if !errors.As(err, &instErr) {
		t.Fatalf("expected InstallmentError, got %v", err)
	}
}

func TestManualAdjustmentReasonRules(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// surplus_found is an increase-only reason.
	_, err := svc.AdjustStock(ctx, testActor(), domain.ManualAdjustmentRequest{
		SKU: "SKU-MIE-01", Direction: domain.AdjustDecrease, Qty: 1,
		Reason: domain.AdjustReason{Code: domain.ReasonSurplus},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid reason for decrease, got %v", err)
	}

	// other requires a note.
	_, err = svc.AdjustStock(ctx, testActor(), domain.ManualAdjustmentRequest{
		SKU: "SKU-MIE-01", Direction: domain.AdjustDecrease, Qty: 1,
		Reason: domain.AdjustReason{Code: domain.ReasonOther},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected mandatory note rejection, got %v", err)
	}

	adj, err := svc.AdjustStock(ctx, testActor(), domain.ManualAdjustmentRequest{
		SKU: "SKU-MIE-01", Direction: domain.AdjustDecrease, Qty: 3,
		Reason: domain.AdjustReason{Code: domain.ReasonDamaged},
	})
	if err != nil {
		t.Fatalf("valid adjustment: %v", err)
	}
	if adj.PreviousStock != 120 || adj.CurrentStock != 117 {
		t.Fatalf("snapshots = %d -> %d, want 120 -> 117", adj.PreviousStock, adj.CurrentStock)
	}
	if adj.Actor != "admin" {
		t.Fatalf("actor = %q, want admin", adj.Actor)
	}
}

func TestManualAdjustmentCannotUndershootStock(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.AdjustStock(context.Background(), testActor(), domain.ManualAdjustmentRequest{
		SKU: "SKU-BERAS-01", Direction: domain.AdjustDecrease, Qty: 41,
		Reason: domain.AdjustReason{Code: domain.ReasonLost},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestStockOpnameRecordsDirectionalDiff(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, testActor(), domain.ProductCreateRequest{
		SKU: "SKU-OPN-01", Name: "Sabun Batang", InitialStock: 12,
		PriceRetailCents: 4500,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	resp, err := svc.StockOpname(ctx, testActor(), domain.OpnameRequest{SKU: product.SKU, FinalCount: 8})
	if err != nil {
		t.Fatalf("opname: %v", err)
	}
	if resp.NoChange || resp.Adjustment == nil {
		t.Fatalf("expected journaled adjustment")
	}
	if resp.Adjustment.Direction != domain.AdjustDecrease || resp.Adjustment.Qty != 4 {
		t.Fatalf("adjustment = %s %d, want decrease 4", resp.Adjustment.Direction, resp.Adjustment.Qty)
	}
	if resp.Adjustment.PreviousStock != 12 || resp.Adjustment.CurrentStock != 8 {
		t.Fatalf("snapshots = %d -> %d", resp.Adjustment.PreviousStock, resp.Adjustment.CurrentStock)
	}

	got, err := svc.GetProductBySKU(ctx, product.SKU)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 8 {
		t.Fatalf("stock = %d, want 8", got.Stock)
	}
}

func TestStockOpnameMatchingCountIsNoOp(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	resp, err := svc.StockOpname(ctx, testActor(), domain.OpnameRequest{SKU: "SKU-SUSU-01", FinalCount: 60})
	if err != nil {
		t.Fatalf("opname: %v", err)
	}
	if !resp.NoChange || resp.Adjustment != nil {
		t.Fatalf("matching count must journal nothing: %+v", resp)
	}

	adjustments, err := svc.ListStockAdjustments(ctx, "SKU-SUSU-01", time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(adjustments) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(adjustments))
	}
}

func TestSaleReturnRestoresStockAndLinks(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, testActor(),
		cashSale(domain.SaleLineRequest{SKU: "SKU-SUSU-01", Tier: domain.TierRetail, Qty: 3}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	ret, err := svc.CreateSaleReturn(ctx, testActor(), domain.ReturnRequest{
		OriginalRecordID: sale.Transaction.ID,
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-SUSU-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if ret.Kind != domain.KindReturn {
		t.Fatalf("kind = %s, want return", ret.Kind)
	}
	if ret.OriginalRecordID != sale.Transaction.ID {
		t.Fatalf("return must link its original record")
	}
	// Credit is priced from the original line, 2 x 18900.
	if ret.TotalCents != 37800 {
		t.Fatalf("credit = %d, want 37800", ret.TotalCents)
	}

	product, err := svc.GetProductBySKU(ctx, "SKU-SUSU-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 59 {
		t.Fatalf("stock = %d, want 59 (60 - 3 + 2)", product.Stock)
	}

	history, err := svc.SaleReturns(ctx, sale.Transaction.ID)
	if err != nil {
		t.Fatalf("return history: %v", err)
	}
	if len(history.Returns) != 1 || history.TotalReturnedCents != 37800 {
		t.Fatalf("history = %d returns / %d cents", len(history.Returns), history.TotalReturnedCents)
	}
}

func TestSaleReturnOverReturnRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, testActor(),
		cashSale(domain.SaleLineRequest{SKU: "SKU-SUSU-01", Tier: domain.TierRetail, Qty: 3}))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := svc.CreateSaleReturn(ctx, testActor(), domain.ReturnRequest{
		OriginalRecordID: sale.Transaction.ID,
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-SUSU-01", Qty: 2}},
	}); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = svc.CreateSaleReturn(ctx, testActor(), domain.ReturnRequest{
		OriginalRecordID: sale.Transaction.ID,
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-SUSU-01", Qty: 2}},
	})
	var exceeded ReturnExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ReturnExceededError, got %v", err)
	}
	if exceeded.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", exceeded.Remaining)
	}
}

func TestSaleReturnRejectsUnknownOriginal(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateSaleReturn(context.Background(), testActor(), domain.ReturnRequest{
		OriginalRecordID: "trx-missing",
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-MIE-01", Qty: 1}},
	})
	var link ReturnLinkError
	if !errors.As(err, &link) {
		t.Fatalf("expected ReturnLinkError, got %v", err)
	}
}

func TestPurchaseAndReturnRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, testActor(), domain.PurchaseRequest{
		SupplierID:      "sup-maju",
		Lines:           []domain.PurchaseLineRequest{{SKU: "SKU-KOPI-01", Qty: 100, UnitCostCents: 1800}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 0,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if purchase.Purchase.TotalCents != 180000 {
		t.Fatalf("purchase total = %d", purchase.Purchase.TotalCents)
	}

	product, err := svc.GetProductBySKU(ctx, "SKU-KOPI-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 300 {
		t.Fatalf("stock after purchase = %d, want 300", product.Stock)
	}

	ret, err := svc.CreatePurchaseReturn(ctx, testActor(), domain.ReturnRequest{
		OriginalRecordID: purchase.Purchase.ID,
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-KOPI-01", Qty: 40}},
	})
	if err != nil {
		t.Fatalf("purchase return: %v", err)
	}
	if ret.TotalCents != 72000 {
		t.Fatalf("return credit = %d, want 72000", ret.TotalCents)
	}

	product, err = svc.GetProductBySKU(ctx, "SKU-KOPI-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 260 {
		t.Fatalf("stock after purchase return = %d, want 260", product.Stock)
	}
}

func TestSalesBalancesExcludeReturns(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 4}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 4000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.CreateSaleReturn(ctx, testActor(), domain.ReturnRequest{
		OriginalRecordID: sale.Transaction.ID,
		Lines:            []domain.ReturnLineRequest{{SKU: "SKU-MIE-01", Qty: 1}},
	}); err != nil {
		t.Fatalf("create return: %v", err)
	}

	summary, err := svc.SalesBalances(ctx, domain.RecordFilter{})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if summary.RecordCount != 1 {
		t.Fatalf("record count = %d, want 1 (returns excluded)", summary.RecordCount)
	}
	if summary.TotalSalesCents != 14000 || summary.TotalPaidCents != 4000 || summary.TotalDebtCents != 10000 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSalesBalancesIgnoreListLimit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// More open records than the HTTP layer's default page size; the
	// summary must still cover every one of them.
	for i := 0; i < 101; i++ {
		if _, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
			Lines:           []domain.SaleLineRequest{{SKU: "SKU-KOPI-01", Tier: domain.TierRetail, Qty: 1}},
			PaymentMethod:   domain.PayDeferred,
			AmountPaidCents: 0,
		}); err != nil {
			t.Fatalf("create sale %d: %v", i, err)
		}
	}

	summary, err := svc.SalesBalances(ctx, domain.RecordFilter{Limit: 100})
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if summary.RecordCount != 101 {
		t.Fatalf("record count = %d, want 101", summary.RecordCount)
	}
	if summary.TotalSalesCents != 101*2600 || summary.TotalDebtCents != 101*2600 {
		t.Fatalf("summary = %+v, want 262600 sales and debt", summary)
	}
}

func TestGlobalReceivablesYearCutoff(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	year := time.Now().UTC().Year()

	// One open receivable this year, one dated next year.
	if _, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 2}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 0,
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	future := time.Date(year+1, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := svc.CreateSale(ctx, testActor(), domain.SaleRequest{
		Date:            &future,
		Lines:           []domain.SaleLineRequest{{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 1}},
		PaymentMethod:   domain.PayDeferred,
		AmountPaidCents: 0,
	}); err != nil {
		t.Fatalf("create future sale: %v", err)
	}

	resp, err := svc.GlobalReceivables(ctx, year)
	if err != nil {
		t.Fatalf("receivables: %v", err)
	}
	if resp.RecordCount != 1 || resp.OutstandingCents != 7000 {
		t.Fatalf("receivables = %+v, want one 7000 record inside the cutoff", resp)
	}

	next, err := svc.GlobalReceivables(ctx, year+1)
	if err != nil {
		t.Fatalf("receivables next year: %v", err)
	}
	if next.RecordCount != 2 {
		t.Fatalf("next-year window should include both records, got %d", next.RecordCount)
	}
}

func TestCommitFailsWhenStockMovedAfterRead(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Drain the product behind the service's back after it would have
	// read stock, then watch the commit-time check fail.
	if _, err := repo.ConditionalAdjustStock(ctx, "prd-beras-01", -39, 0); err != nil {
		t.Fatalf("drain stock: %v", err)
	}

	_, err := svc.CreateSale(ctx, testActor(),
		cashSale(domain.SaleLineRequest{SKU: "SKU-BERAS-01", Tier: domain.TierRetail, Qty: 5}))
	var exceeded cart.StockExceededError
	if !errors.As(err, &exceeded) && !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected stock failure, got %v", err)
	}

	product, err := svc.GetProductBySKU(ctx, "SKU-BERAS-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 1 {
		t.Fatalf("failed commit must not touch stock, got %d", product.Stock)
	}
}

func TestAuditTrailRecordsExplicitActor(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	kasir := domain.Actor{Username: "kasir", Role: "kasir"}
	if _, err := svc.CreateSale(ctx, kasir,
		cashSale(domain.SaleLineRequest{SKU: "SKU-MIE-01", Tier: domain.TierRetail, Qty: 1})); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected an audit entry")
	}
	if logs[0].ActorUsername != "kasir" {
		t.Fatalf("audit actor = %q, want kasir", logs[0].ActorUsername)
	}
	if logs[0].Action != "sale_create" {
		t.Fatalf("audit action = %q", logs[0].Action)
	}
}
