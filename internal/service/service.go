package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/cart"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/ledger"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type actorContextKey struct{}

// WithActor stashes the authenticated actor for the HTTP layer. Engine
// operations still take the actor as an explicit parameter; the context value
// only carries it between middleware and handler.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ReturnLinkError reports a return that references a missing or
// wrong-kind original record.
type ReturnLinkError struct {
	OriginalRecordID string
	Detail           string
}

func (e ReturnLinkError) Error() string {
	return fmt.Sprintf("return cannot link to %s: %s", e.OriginalRecordID, e.Detail)
}

// ReturnExceededError reports a returned quantity beyond what remains
// returnable on the original record.
type ReturnExceededError struct {
	SKU       string
	Requested int
	Remaining int
}

func (e ReturnExceededError) Error() string {
	return fmt.Sprintf("return of %d x %s exceeds remaining returnable qty %d", e.Requested, e.SKU, e.Remaining)
}

const installmentRetries = 3

type Service struct {
	repo       store.Repository
	balances   cache.BalanceCache
	balanceTTL time.Duration
}

func New(repo store.Repository, balances cache.BalanceCache, balanceTTL time.Duration) *Service {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if balanceTTL <= 0 {
		balanceTTL = 30 * time.Second
	}
	return &Service{repo: repo, balances: balances, balanceTTL: balanceTTL}
}

// --- catalog ---

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	p, err := s.repo.GetProductBySKU(ctx, normalizeSKU(sku))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	req.SKU = normalizeSKU(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PriceRetailCents < 0 || req.PriceGeneralCents < 0 || req.PriceWholesaleCents < 0 || req.PricePromoCents < 0 || req.CostCents < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:                 req.SKU,
		Name:                req.Name,
		Stock:               req.InitialStock,
		PriceRetailCents:    req.PriceRetailCents,
		PriceGeneralCents:   req.PriceGeneralCents,
		PriceWholesaleCents: req.PriceWholesaleCents,
		PricePromoCents:     req.PricePromoCents,
		CostCents:           req.CostCents,
		Active:              true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,stock=%d", created.SKU, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProductBySKU(ctx, normalizeSKU(sku))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	for _, f := range []struct {
		src *int64
		dst *int64
	}{
		{req.PriceRetailCents, &updated.PriceRetailCents},
		{req.PriceGeneralCents, &updated.PriceGeneralCents},
		{req.PriceWholesaleCents, &updated.PriceWholesaleCents},
		{req.PricePromoCents, &updated.PricePromoCents},
		{req.CostCents, &updated.CostCents},
	} {
		if f.src != nil {
			if *f.src < 0 {
				return domain.Product{}, store.ErrInvalidTransaction
			}
			*f.dst = *f.src
		}
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, actor, "product_update", "product", saved.ID, fmt.Sprintf("sku=%s,active=%t", saved.SKU, saved.Active))
	return *saved, nil
}

// --- sales ---

func (s *Service) CreateSale(ctx context.Context, actor domain.Actor, req domain.SaleRequest) (domain.SaleResponse, error) {
	if !req.PaymentMethod.Valid() {
		return domain.SaleResponse{}, store.ErrInvalidTransaction
	}
	if req.PaymentMethod == domain.PayTransfer && strings.TrimSpace(req.BankRef) == "" {
		return domain.SaleResponse{}, cart.MissingBankRefError{}
	}
	if len(req.Lines) == 0 {
		return domain.SaleResponse{}, store.ErrInvalidTransaction
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{
			Transaction: *existing,
			ChangeCents: maxChange(existing.AmountPaidCents, existing.TotalCents),
			Duplicate:   true,
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	defaultTier := domain.TierRetail
	if req.CustomerID != "" {
		customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		if customer.DefaultTier.Valid() {
			defaultTier = customer.DefaultTier
		}
	}

	c := cart.NewSaleCart()
	for _, lineReq := range req.Lines {
		product, err := s.repo.GetProductBySKU(ctx, normalizeSKU(lineReq.SKU))
		if err != nil {
			return domain.SaleResponse{}, err
		}
		tier := lineReq.Tier
		if tier == "" {
			tier = defaultTier
		}
		qty := lineReq.Qty
		if qty == 0 {
			qty = 1
		}
		if qty < 1 {
			return domain.SaleResponse{}, store.ErrInvalidTransaction
		}
		if err := c.AddLine(*product, tier); err != nil {
			return domain.SaleResponse{}, err
		}
		if qty > 1 {
			idx := len(c.Lines()) - 1
			for i, l := range c.Lines() {
				if l.ProductID == product.ID && l.Tier == tier {
					idx = i
					break
				}
			}
			target := c.Lines()[idx].Qty + qty - 1
			if err := c.SetLineQty(idx, target); err != nil {
				return domain.SaleResponse{}, err
			}
		}
	}
	c.SetDiscount(req.DiscountType, req.DiscountValue)

	// Re-read stock in one batch right before validation; the per-line
	// reads above may already be stale.
	ids := make([]string, 0, len(c.Lines()))
	for _, line := range c.Lines() {
		ids = append(ids, line.ProductID)
	}
	current, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	liveStock := make(map[string]int, len(current))
	for id, p := range current {
		liveStock[id] = p.Stock
	}

	if err := c.Validate(liveStock); err != nil {
		return domain.SaleResponse{}, err
	}
	total := c.TotalCents()
	if err := ledger.ValidateCreation(req.PaymentMethod, req.AmountPaidCents, total); err != nil {
		return domain.SaleResponse{}, err
	}

	now := time.Now().UTC()
	date := now
	if req.Date != nil {
		date = req.Date.UTC()
	}
	status := ledger.DeriveStatus(req.AmountPaidCents, total)

	draft := domain.Transaction{
		ID:              xid.New("trx"),
		Kind:            domain.KindSale,
		CustomerID:      req.CustomerID,
		Date:            date,
		Items:           c.Lines(),
		SubtotalCents:   c.SubtotalCents(),
		DiscountType:    req.DiscountType,
		DiscountValue:   req.DiscountValue,
		DiscountCents:   c.DiscountCents(),
		TotalCents:      total,
		AmountPaidCents: req.AmountPaidCents,
		PaymentStatus:   status,
		PaymentMethod:   req.PaymentMethod,
		BankRef:         strings.TrimSpace(req.BankRef),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
	}
	if req.AmountPaidCents > 0 {
		draft.PaymentHistory = []domain.PaymentHistoryItem{{
			Date:        date,
			AmountCents: req.AmountPaidCents,
			Method:      req.PaymentMethod,
			BankRef:     draft.BankRef,
			Note:        "initial payment",
		}}
	}

	created, err := s.repo.CreateTransaction(ctx, draft)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, actor, "sale_create", "transaction", created.ID,
		fmt.Sprintf("invoice=%s,total=%d,paid=%d,method=%s,status=%s", created.InvoiceNumber, created.TotalCents, created.AmountPaidCents, created.PaymentMethod, created.PaymentStatus))

	return domain.SaleResponse{
		Transaction: *created,
		ChangeCents: maxChange(created.AmountPaidCents, created.TotalCents),
	}, nil
}

func (s *Service) FindTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.RecordFilter) ([]domain.Transaction, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListTransactions(ctx, filter)
}

// --- purchases ---

func (s *Service) CreatePurchase(ctx context.Context, actor domain.Actor, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	if !req.PaymentMethod.Valid() {
		return domain.PurchaseResponse{}, store.ErrInvalidTransaction
	}
	if req.PaymentMethod == domain.PayTransfer && strings.TrimSpace(req.BankRef) == "" {
		return domain.PurchaseResponse{}, cart.MissingBankRefError{}
	}
	if req.SupplierID == "" || len(req.Lines) == 0 {
		return domain.PurchaseResponse{}, store.ErrInvalidTransaction
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindPurchaseByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.PurchaseResponse{
			Purchase:    *existing,
			ChangeCents: maxChange(existing.AmountPaidCents, existing.TotalCents),
			Duplicate:   true,
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.PurchaseResponse{}, err
	}

	if _, err := s.repo.GetSupplierByID(ctx, req.SupplierID); err != nil {
		return domain.PurchaseResponse{}, err
	}

	c := cart.NewPurchaseCart()
	for _, lineReq := range req.Lines {
		product, err := s.repo.GetProductBySKU(ctx, normalizeSKU(lineReq.SKU))
		if err != nil {
			return domain.PurchaseResponse{}, err
		}
		if err := c.AddCostLine(*product, lineReq.Qty, lineReq.UnitCostCents); err != nil {
			return domain.PurchaseResponse{}, err
		}
	}
	c.SetDiscount(req.DiscountType, req.DiscountValue)

	if err := c.Validate(nil); err != nil {
		return domain.PurchaseResponse{}, err
	}
	total := c.TotalCents()
	if err := ledger.ValidateCreation(req.PaymentMethod, req.AmountPaidCents, total); err != nil {
		return domain.PurchaseResponse{}, err
	}

	now := time.Now().UTC()
	date := now
	if req.Date != nil {
		date = req.Date.UTC()
	}

	draft := domain.Purchase{
		ID:              xid.New("pur"),
		Kind:            domain.KindPurchase,
		SupplierID:      req.SupplierID,
		Date:            date,
		Items:           c.Lines(),
		SubtotalCents:   c.SubtotalCents(),
		DiscountType:    req.DiscountType,
		DiscountValue:   req.DiscountValue,
		DiscountCents:   c.DiscountCents(),
		TotalCents:      total,
		AmountPaidCents: req.AmountPaidCents,
		PaymentStatus:   ledger.DeriveStatus(req.AmountPaidCents, total),
		PaymentMethod:   req.PaymentMethod,
		BankRef:         strings.TrimSpace(req.BankRef),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
	}
	if req.AmountPaidCents > 0 {
		draft.PaymentHistory = []domain.PaymentHistoryItem{{
			Date:        date,
			AmountCents: req.AmountPaidCents,
			Method:      req.PaymentMethod,
			BankRef:     draft.BankRef,
			Note:        "initial payment",
		}}
	}

	created, err := s.repo.CreatePurchase(ctx, draft)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, actor, "purchase_create", "purchase", created.ID,
		fmt.Sprintf("invoice=%s,total=%d,paid=%d,method=%s,status=%s", created.InvoiceNumber, created.TotalCents, created.AmountPaidCents, created.PaymentMethod, created.PaymentStatus))

	return domain.PurchaseResponse{
		Purchase:    *created,
		ChangeCents: maxChange(created.AmountPaidCents, created.TotalCents),
	}, nil
}

func (s *Service) FindPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	p, err := s.repo.FindPurchaseByID(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	return *p, nil
}

func (s *Service) ListPurchases(ctx context.Context, filter domain.RecordFilter) ([]domain.Purchase, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListPurchases(ctx, filter)
}

// --- installments ---

// RecordSalePayment appends one installment to a sale. The append is
// optimistic: on a version conflict with a concurrent installment the read
// and validation are redone against the fresh record.
func (s *Service) RecordSalePayment(ctx context.Context, actor domain.Actor, id string, req domain.InstallmentRequest) (domain.Transaction, error) {
	item, err := installmentItem(req)
	if err != nil {
		return domain.Transaction{}, err
	}

	for attempt := 0; attempt < installmentRetries; attempt++ {
		tx, err := s.repo.FindTransactionByID(ctx, id)
		if err != nil {
			return domain.Transaction{}, err
		}
		if tx.Kind == domain.KindReturn {
			return domain.Transaction{}, fmt.Errorf("%w: installments not accepted on return records", store.ErrInvalidTransaction)
		}
		outstanding := ledger.Outstanding(tx.AmountPaidCents, tx.TotalCents)
		if err := ledger.ValidateInstallment(outstanding, item.AmountCents); err != nil {
			return domain.Transaction{}, err
		}
		paid, status := ledger.Apply(tx.AmountPaidCents, tx.TotalCents, item.AmountCents)

		updated, err := s.repo.AppendTransactionPayment(ctx, id, item, paid, status, tx.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.Transaction{}, err
		}
		s.logAudit(ctx, actor, "sale_installment", "transaction", id,
			fmt.Sprintf("amount=%d,paid=%d,status=%s", item.AmountCents, updated.AmountPaidCents, updated.PaymentStatus))
		return *updated, nil
	}
	return domain.Transaction{}, store.ErrVersionConflict
}

func (s *Service) RecordPurchasePayment(ctx context.Context, actor domain.Actor, id string, req domain.InstallmentRequest) (domain.Purchase, error) {
	item, err := installmentItem(req)
	if err != nil {
		return domain.Purchase{}, err
	}

	for attempt := 0; attempt < installmentRetries; attempt++ {
		p, err := s.repo.FindPurchaseByID(ctx, id)
		if err != nil {
			return domain.Purchase{}, err
		}
		if p.Kind == domain.KindReturn {
			return domain.Purchase{}, fmt.Errorf("%w: installments not accepted on return records", store.ErrInvalidTransaction)
		}
		outstanding := ledger.Outstanding(p.AmountPaidCents, p.TotalCents)
		if err := ledger.ValidateInstallment(outstanding, item.AmountCents); err != nil {
			return domain.Purchase{}, err
		}
		paid, status := ledger.Apply(p.AmountPaidCents, p.TotalCents, item.AmountCents)

		updated, err := s.repo.AppendPurchasePayment(ctx, id, item, paid, status, p.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.Purchase{}, err
		}
		s.logAudit(ctx, actor, "purchase_installment", "purchase", id,
			fmt.Sprintf("amount=%d,paid=%d,status=%s", item.AmountCents, updated.AmountPaidCents, updated.PaymentStatus))
		return *updated, nil
	}
	return domain.Purchase{}, store.ErrVersionConflict
}

func installmentItem(req domain.InstallmentRequest) (domain.PaymentHistoryItem, error) {
	if req.AmountCents < 1 {
		return domain.PaymentHistoryItem{}, ledger.InstallmentError{AmountCents: req.AmountCents}
	}
	method := req.Method
	if method == "" {
		method = domain.PayCash
	}
	if !method.Valid() || method == domain.PayDeferred {
		return domain.PaymentHistoryItem{}, store.ErrInvalidTransaction
	}
	if method == domain.PayTransfer && strings.TrimSpace(req.BankRef) == "" {
		return domain.PaymentHistoryItem{}, cart.MissingBankRefError{}
	}
	date := time.Now().UTC()
	if req.Date != nil {
		date = req.Date.UTC()
	}
	return domain.PaymentHistoryItem{
		Date:        date,
		AmountCents: req.AmountCents,
		Method:      method,
		BankRef:     strings.TrimSpace(req.BankRef),
		Note:        strings.TrimSpace(req.Note),
	}, nil
}

// --- stock adjustment journal ---

func (s *Service) AdjustStock(ctx context.Context, actor domain.Actor, req domain.ManualAdjustmentRequest) (domain.StockAdjustment, error) {
	req.SKU = normalizeSKU(req.SKU)
	if req.SKU == "" || req.Qty < 1 {
		return domain.StockAdjustment{}, store.ErrInvalidTransaction
	}
	if err := validateReason(req.Direction, req.Reason); err != nil {
		return domain.StockAdjustment{}, err
	}

	created, err := s.repo.CreateStockAdjustment(ctx, domain.StockAdjustment{
		SKU:       req.SKU,
		Direction: req.Direction,
		Qty:       req.Qty,
		Reason:    req.Reason,
		Actor:     actor.Username,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logAudit(ctx, actor, "stock_adjust", "stock_adjustment", created.ID,
		fmt.Sprintf("sku=%s,%s=%d,reason=%s,stock=%d->%d", created.SKU, created.Direction, created.Qty, created.Reason.Code, created.PreviousStock, created.CurrentStock))
	return *created, nil
}

// StockOpname reconciles a physical count. A count equal to system stock is a
// no-op: nothing is journaled and stock is untouched.
func (s *Service) StockOpname(ctx context.Context, actor domain.Actor, req domain.OpnameRequest) (domain.OpnameResponse, error) {
	req.SKU = normalizeSKU(req.SKU)
	if req.SKU == "" || req.FinalCount < 0 {
		return domain.OpnameResponse{}, store.ErrInvalidTransaction
	}

	product, err := s.repo.GetProductBySKU(ctx, req.SKU)
	if err != nil {
		return domain.OpnameResponse{}, err
	}

	diff := req.FinalCount - product.Stock
	if diff == 0 {
		return domain.OpnameResponse{NoChange: true}, nil
	}

	manual := domain.ManualAdjustmentRequest{SKU: req.SKU, Reason: req.Reason}
	if diff > 0 {
		manual.Direction = domain.AdjustIncrease
		manual.Qty = diff
	} else {
		manual.Direction = domain.AdjustDecrease
		manual.Qty = -diff
	}
	if manual.Reason.Code == "" {
		manual.Reason = domain.AdjustReason{Code: domain.ReasonCorrection}
	}

	adj, err := s.AdjustStock(ctx, actor, manual)
	if err != nil {
		return domain.OpnameResponse{}, err
	}
	return domain.OpnameResponse{Adjustment: &adj}, nil
}

func (s *Service) ListStockAdjustments(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockAdjustment, error) {
	return s.repo.ListStockAdjustments(ctx, normalizeSKU(sku), from, to, limit)
}

var increaseReasons = map[string]bool{
	domain.ReasonSurplus:    true,
	domain.ReasonCorrection: true,
	domain.ReasonOther:      true,
}

var decreaseReasons = map[string]bool{
	domain.ReasonDamaged:    true,
	domain.ReasonExpired:    true,
	domain.ReasonLost:       true,
	domain.ReasonCorrection: true,
	domain.ReasonOther:      true,
}

func validateReason(direction domain.AdjustDirection, reason domain.AdjustReason) error {
	var allowed map[string]bool
	switch direction {
	case domain.AdjustIncrease:
		allowed = increaseReasons
	case domain.AdjustDecrease:
		allowed = decreaseReasons
	default:
		return store.ErrInvalidTransaction
	}
	if !allowed[reason.Code] {
		return fmt.Errorf("%w: reason %q not allowed for %s", store.ErrInvalidTransaction, reason.Code, direction)
	}
	if reason.Code == domain.ReasonOther && strings.TrimSpace(reason.Note) == "" {
		return fmt.Errorf("%w: reason %q requires a note", store.ErrInvalidTransaction, domain.ReasonOther)
	}
	return nil
}

// --- returns ---

// CreateSaleReturn records a sale-return referencing the original sale,
// credits its line-priced total and adds the returned quantities back to
// stock. Per-line returns may never exceed the original quantity minus what
// was already returned.
func (s *Service) CreateSaleReturn(ctx context.Context, actor domain.Actor, req domain.ReturnRequest) (domain.Transaction, error) {
	if req.OriginalRecordID == "" || len(req.Lines) == 0 {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}

	original, err := s.repo.FindTransactionByID(ctx, req.OriginalRecordID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transaction{}, ReturnLinkError{OriginalRecordID: req.OriginalRecordID, Detail: "original record not found"}
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if original.Kind != domain.KindSale {
		return domain.Transaction{}, ReturnLinkError{OriginalRecordID: req.OriginalRecordID, Detail: fmt.Sprintf("original record is a %s, not a sale", original.Kind)}
	}

	alreadyReturned, err := s.repo.ReturnedQtyForTransaction(ctx, original.ID)
	if err != nil {
		return domain.Transaction{}, err
	}

	items, subtotal, err := buildReturnLines(original.Items, alreadyReturned, req.Lines)
	if err != nil {
		return domain.Transaction{}, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PayCash
	}
	now := time.Now().UTC()
	draft := domain.Transaction{
		ID:               xid.New("trx"),
		Kind:             domain.KindReturn,
		CustomerID:       original.CustomerID,
		Date:             now,
		Items:            items,
		SubtotalCents:    subtotal,
		TotalCents:       subtotal,
		AmountPaidCents:  subtotal,
		PaymentStatus:    domain.StatusPaid,
		PaymentMethod:    method,
		BankRef:          strings.TrimSpace(req.BankRef),
		OriginalRecordID: original.ID,
		CreatedAt:        now,
	}

	created, err := s.repo.CreateTransaction(ctx, draft)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, actor, "sale_return", "transaction", created.ID,
		fmt.Sprintf("original=%s,credit=%d,note=%s", original.ID, created.TotalCents, strings.TrimSpace(req.Note)))
	return *created, nil
}

// CreatePurchaseReturn mirrors CreateSaleReturn for the supplier side: the
// returned quantities leave stock, which can fail with insufficient stock if
// the goods were already sold on.
func (s *Service) CreatePurchaseReturn(ctx context.Context, actor domain.Actor, req domain.ReturnRequest) (domain.Purchase, error) {
	if req.OriginalRecordID == "" || len(req.Lines) == 0 {
		return domain.Purchase{}, store.ErrInvalidTransaction
	}

	original, err := s.repo.FindPurchaseByID(ctx, req.OriginalRecordID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Purchase{}, ReturnLinkError{OriginalRecordID: req.OriginalRecordID, Detail: "original record not found"}
	}
	if err != nil {
		return domain.Purchase{}, err
	}
	if original.Kind != domain.KindPurchase {
		return domain.Purchase{}, ReturnLinkError{OriginalRecordID: req.OriginalRecordID, Detail: fmt.Sprintf("original record is a %s, not a purchase", original.Kind)}
	}

	alreadyReturned, err := s.repo.ReturnedQtyForPurchase(ctx, original.ID)
	if err != nil {
		return domain.Purchase{}, err
	}

	items, subtotal, err := buildReturnLines(original.Items, alreadyReturned, req.Lines)
	if err != nil {
		return domain.Purchase{}, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PayCash
	}
	now := time.Now().UTC()
	draft := domain.Purchase{
		ID:               xid.New("pur"),
		Kind:             domain.KindReturn,
		SupplierID:       original.SupplierID,
		Date:             now,
		Items:            items,
		SubtotalCents:    subtotal,
		TotalCents:       subtotal,
		AmountPaidCents:  subtotal,
		PaymentStatus:    domain.StatusPaid,
		PaymentMethod:    method,
		BankRef:          strings.TrimSpace(req.BankRef),
		OriginalRecordID: original.ID,
		CreatedAt:        now,
	}

	created, err := s.repo.CreatePurchase(ctx, draft)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, actor, "purchase_return", "purchase", created.ID,
		fmt.Sprintf("original=%s,credit=%d,note=%s", original.ID, created.TotalCents, strings.TrimSpace(req.Note)))
	return *created, nil
}

func (s *Service) SaleReturns(ctx context.Context, originalID string) (domain.SaleReturnHistory, error) {
	if originalID == "" {
		return domain.SaleReturnHistory{}, store.ErrInvalidTransaction
	}
	if _, err := s.repo.FindTransactionByID(ctx, originalID); err != nil {
		return domain.SaleReturnHistory{}, err
	}
	returns, err := s.repo.ListReturnsForTransaction(ctx, originalID)
	if err != nil {
		return domain.SaleReturnHistory{}, err
	}
	var total int64
	for _, r := range returns {
		total += r.TotalCents
	}
	return domain.SaleReturnHistory{OriginalRecordID: originalID, Returns: returns, TotalReturnedCents: total}, nil
}

func (s *Service) PurchaseReturns(ctx context.Context, originalID string) (domain.PurchaseReturnHistory, error) {
	if originalID == "" {
		return domain.PurchaseReturnHistory{}, store.ErrInvalidTransaction
	}
	if _, err := s.repo.FindPurchaseByID(ctx, originalID); err != nil {
		return domain.PurchaseReturnHistory{}, err
	}
	returns, err := s.repo.ListReturnsForPurchase(ctx, originalID)
	if err != nil {
		return domain.PurchaseReturnHistory{}, err
	}
	var total int64
	for _, r := range returns {
		total += r.TotalCents
	}
	return domain.PurchaseReturnHistory{OriginalRecordID: originalID, Returns: returns, TotalReturnedCents: total}, nil
}

// buildReturnLines prices requested return lines from the original record and
// enforces the remaining-quantity ceiling per product. Original lines of the
// same product under different tiers are folded together; the first line's
// unit price is the credit price.
func buildReturnLines(originalItems []domain.CartLine, alreadyReturned map[string]int, lines []domain.ReturnLineRequest) ([]domain.CartLine, int64, error) {
	type purchased struct {
		line domain.CartLine
		qty  int
	}
	bySKU := make(map[string]purchased, len(originalItems))
	for _, line := range originalItems {
		p, ok := bySKU[line.SKU]
		if !ok {
			p = purchased{line: line}
		}
		p.qty += line.Qty
		bySKU[line.SKU] = p
	}

	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		sku := normalizeSKU(line.SKU)
		if sku == "" || line.Qty < 1 {
			return nil, 0, store.ErrInvalidTransaction
		}
		requested[sku] += line.Qty
	}

	items := make([]domain.CartLine, 0, len(requested))
	var subtotal int64
	for sku, qty := range requested {
		p, ok := bySKU[sku]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s not on original record", store.ErrInvalidTransaction, sku)
		}
		remaining := p.qty - alreadyReturned[p.line.ProductID]
		if qty > remaining {
			return nil, 0, ReturnExceededError{SKU: sku, Requested: qty, Remaining: remaining}
		}
		item := domain.CartLine{
			ProductID:      p.line.ProductID,
			SKU:            sku,
			Tier:           p.line.Tier,
			Qty:            qty,
			UnitPriceCents: p.line.UnitPriceCents,
		}
		items = append(items, item)
		subtotal += item.LineTotalCents()
	}
	return items, subtotal, nil
}

// --- receivables / payables ---

// SalesBalances aggregates sale records in the filter window. Returns (kind
// return) are excluded: they credit their original record rather than count
// as sales. The summary covers every matching record; any list limit on the
// filter is discarded so the totals never understate the book.
func (s *Service) SalesBalances(ctx context.Context, filter domain.RecordFilter) (domain.BalanceSummary, error) {
	filter.Kind = domain.KindSale
	filter.Limit = -1
	key := balanceKey("sales", filter)
	if cached, ok, err := s.balances.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	records, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return domain.BalanceSummary{}, err
	}
	summary := domain.BalanceSummary{}
	for _, tx := range records {
		summary.TotalSalesCents += tx.TotalCents
		summary.TotalPaidCents += settledCents(tx.AmountPaidCents, tx.TotalCents)
		if tx.PaymentStatus != domain.StatusPaid {
			summary.TotalDebtCents += ledger.Outstanding(tx.AmountPaidCents, tx.TotalCents)
		}
		summary.RecordCount++
	}

	if err := s.balances.Set(ctx, key, &summary, s.balanceTTL); err != nil {
		log.Printf("[service] WARN: failed to cache balance summary %s: %v", key, err)
	}
	return summary, nil
}

func (s *Service) PurchaseBalances(ctx context.Context, filter domain.RecordFilter) (domain.BalanceSummary, error) {
	filter.Kind = domain.KindPurchase
	filter.Limit = -1
	key := balanceKey("purchases", filter)
	if cached, ok, err := s.balances.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	records, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return domain.BalanceSummary{}, err
	}
	summary := domain.BalanceSummary{}
	for _, p := range records {
		summary.TotalSalesCents += p.TotalCents
		summary.TotalPaidCents += settledCents(p.AmountPaidCents, p.TotalCents)
		if p.PaymentStatus != domain.StatusPaid {
			summary.TotalDebtCents += ledger.Outstanding(p.AmountPaidCents, p.TotalCents)
		}
		summary.RecordCount++
	}

	if err := s.balances.Set(ctx, key, &summary, s.balanceTTL); err != nil {
		log.Printf("[service] WARN: failed to cache balance summary %s: %v", key, err)
	}
	return summary, nil
}

// GlobalReceivables sums the outstanding balance of every unpaid or partial
// sale dated on or before the end of the given year. The cutoff is
// deliberately independent of any list filter the caller may be using
// elsewhere; it is a reporting convention, not a bug to unify.
func (s *Service) GlobalReceivables(ctx context.Context, year int) (domain.GlobalBalanceResponse, error) {
	if year < 1 {
		year = time.Now().UTC().Year()
	}
	cutoff := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)

	records, err := s.repo.ListTransactions(ctx, domain.RecordFilter{Kind: domain.KindSale, To: cutoff, Limit: -1})
	if err != nil {
		return domain.GlobalBalanceResponse{}, err
	}
	resp := domain.GlobalBalanceResponse{Year: year}
	for _, tx := range records {
		if tx.PaymentStatus == domain.StatusPaid {
			continue
		}
		resp.OutstandingCents += ledger.Outstanding(tx.AmountPaidCents, tx.TotalCents)
		resp.RecordCount++
	}
	return resp, nil
}

func (s *Service) GlobalPayables(ctx context.Context, year int) (domain.GlobalBalanceResponse, error) {
	if year < 1 {
		year = time.Now().UTC().Year()
	}
	cutoff := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)

	records, err := s.repo.ListPurchases(ctx, domain.RecordFilter{Kind: domain.KindPurchase, To: cutoff, Limit: -1})
	if err != nil {
		return domain.GlobalBalanceResponse{}, err
	}
	resp := domain.GlobalBalanceResponse{Year: year}
	for _, p := range records {
		if p.PaymentStatus == domain.StatusPaid {
			continue
		}
		resp.OutstandingCents += ledger.Outstanding(p.AmountPaidCents, p.TotalCents)
		resp.RecordCount++
	}
	return resp, nil
}

// --- directories ---

func (s *Service) CreateCustomer(ctx context.Context, actor domain.Actor, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	if req.DefaultTier != "" && !req.DefaultTier.Valid() {
		return domain.Customer{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:        req.Name,
		Phone:       strings.TrimSpace(req.Phone),
		DefaultTier: req.DefaultTier,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, actor, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, actor domain.Actor, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, actor, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// --- helpers ---

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func balanceKey(kind string, filter domain.RecordFilter) string {
	return fmt.Sprintf("balance:%s:%s:%s:%d:%d:%d", kind, filter.PartyID, filter.Status, filter.From.Unix(), filter.To.Unix(), filter.Limit)
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// settledCents counts tendered cash only up to the total; change handed back
// is not revenue.
func settledCents(paid int64, total int64) int64 {
	if paid > total {
		return total
	}
	return paid
}

func maxChange(paid int64, total int64) int64 {
	if change := ledger.Change(paid, total); change > 0 {
		return change
	}
	return 0
}
