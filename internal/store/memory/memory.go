// Package memory is the in-process Repository used in dev mode and by the
// engine tests. It honors the same conditional-update contract as the
// postgres store: stock never goes negative, installment appends check the
// record version, and a failed call leaves no partial state behind.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	productsByID       map[string]domain.Product
	productIDBySKU     map[string]string
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]string
	purchasesByID      map[string]*domain.Purchase
	purchasesByIdem    map[string]string
	adjustmentsByID    map[string]domain.StockAdjustment
	customersByID      map[string]domain.Customer
	suppliersByID      map[string]domain.Supplier
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
	invoiceSeq         int
	purchaseSeq        int
}

func New() *Store {
	return &Store{
		productsByID:       make(map[string]domain.Product),
		productIDBySKU:     make(map[string]string),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]string),
		purchasesByID:      make(map[string]*domain.Purchase),
		purchasesByIdem:    make(map[string]string),
		adjustmentsByID:    make(map[string]domain.StockAdjustment),
		customersByID:      make(map[string]domain.Customer),
		suppliersByID:      make(map[string]domain.Supplier),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small catalog, directory entries
// and dev users, for running the backend without PostgreSQL.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd-mie-01", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Stock: 120, PriceRetailCents: 3500, PriceGeneralCents: 3300, PriceWholesaleCents: 3000, PricePromoCents: 2900, CostCents: 2600},
		{ID: "prd-telur-01", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Stock: 80, PriceRetailCents: 26500, PriceGeneralCents: 25800, PriceWholesaleCents: 24500, PricePromoCents: 0, CostCents: 22000},
		{ID: "prd-susu-01", SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Stock: 60, PriceRetailCents: 18900, PriceGeneralCents: 18200, PriceWholesaleCents: 17000, PricePromoCents: 15900, CostCents: 14000},
		{ID: "prd-kopi-01", SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Stock: 200, PriceRetailCents: 2600, PriceGeneralCents: 2500, PriceWholesaleCents: 2200, PricePromoCents: 0, CostCents: 1800},
		{ID: "prd-gula-01", SKU: "SKU-GULA-01", Name: "Gula 1kg", Stock: 90, PriceRetailCents: 17400, PriceGeneralCents: 17000, PriceWholesaleCents: 16200, PricePromoCents: 0, CostCents: 15000},
		{ID: "prd-beras-01", SKU: "SKU-BERAS-01", Name: "Beras 5kg", Stock: 40, PriceRetailCents: 68000, PriceGeneralCents: 66500, PriceWholesaleCents: 64000, PricePromoCents: 62000, CostCents: 58000},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		s.productsByID[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
	}

	s.customersByID["cst-umum"] = domain.Customer{ID: "cst-umum", Name: "Pelanggan Umum", DefaultTier: domain.TierRetail, CreatedAt: now}
	s.customersByID["cst-warung-sari"] = domain.Customer{ID: "cst-warung-sari", Name: "Warung Sari", Phone: "0812-1111-2222", DefaultTier: domain.TierWholesale, CreatedAt: now}
	s.suppliersByID["sup-maju"] = domain.Supplier{ID: "sup-maju", Name: "PT Maju Distribusi", Phone: "021-555-0101", CreatedAt: now}

	for username, user := range seedUsers() {
		s.usersByUsername[username] = user
	}
	return s
}

// seedUsers builds the dev-mode accounts. Credentials come from
// SEED_ADMIN_PASSWORD / SEED_KASIR_PASSWORD; hardcoded defaults are used with
// a warning when unset. Production deployments run against PostgreSQL.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	kasirPwd := envOr("SEED_KASIR_PASSWORD", "kasir123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_KASIR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_KASIR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"kasir", kasirPwd, "kasir"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.productsByID[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productIDBySKU[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := s.productsByID[id]
	return &p, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.productsByID[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Stock is owned by commits and the adjustment journal, never by edits.
	product.Stock = existing.Stock
	product.SKU = existing.SKU
	product.CreatedAt = existing.CreatedAt
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ConditionalAdjustStock(_ context.Context, productID string, delta int, expectedMinimum int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.productsByID[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Stock < expectedMinimum || p.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	p.Stock += delta
	s.productsByID[productID] = p
	updated := p
	return &updated, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if existingID, ok := s.transactionsByIdem[tx.IdempotencyKey]; ok {
			existing := cloneTransaction(s.transactionsByID[existingID])
			return existing, nil
		}
	}

	// Conditional stock step: validate every delta first so a failed line
	// leaves no partial mutation behind.
	deltas := make(map[string]int, len(tx.Items))
	for _, line := range tx.Items {
		if line.Qty < 1 || line.UnitPriceCents < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if tx.Kind == domain.KindSale {
			deltas[line.ProductID] -= line.Qty
		} else {
			deltas[line.ProductID] += line.Qty
		}
	}
	for productID, delta := range deltas {
		p, ok := s.productsByID[productID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if p.Stock+delta < 0 {
			return nil, store.ErrInsufficientStock
		}
	}
	for productID, delta := range deltas {
		p := s.productsByID[productID]
		p.Stock += delta
		s.productsByID[productID] = p
	}

	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Date.IsZero() {
		tx.Date = tx.CreatedAt
	}
	s.invoiceSeq++
	tx.InvoiceNumber = fmt.Sprintf("INV-%s-%06d", tx.Date.Format("2006"), s.invoiceSeq)
	tx.Version = 1

	stored := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = stored
	if tx.IdempotencyKey != "" {
		s.transactionsByIdem[tx.IdempotencyKey] = tx.ID
	}
	return cloneTransaction(stored), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(s.transactionsByID[id]), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.RecordFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if !matchesFilter(filter, tx.CustomerID, tx.Kind, tx.PaymentStatus, tx.Date) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListReturnsForTransaction(_ context.Context, originalID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 4)
	for _, tx := range s.transactionsByID {
		if tx.Kind == domain.KindReturn && tx.OriginalRecordID == originalID {
			result = append(result, *cloneTransaction(tx))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ReturnedQtyForTransaction(_ context.Context, originalID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	for _, tx := range s.transactionsByID {
		if tx.Kind != domain.KindReturn || tx.OriginalRecordID != originalID {
			continue
		}
		for _, line := range tx.Items {
			result[line.ProductID] += line.Qty
		}
	}
	return result, nil
}

func (s *Store) AppendTransactionPayment(_ context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	tx.PaymentHistory = append(tx.PaymentHistory, item)
	tx.AmountPaidCents = paid
	tx.PaymentStatus = status
	tx.Version++
	return cloneTransaction(tx), nil
}

func (s *Store) CreatePurchase(_ context.Context, p domain.Purchase) (*domain.Purchase, error) {
	if len(p.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		if existingID, ok := s.purchasesByIdem[p.IdempotencyKey]; ok {
			return clonePurchase(s.purchasesByID[existingID]), nil
		}
	}

	deltas := make(map[string]int, len(p.Items))
	for _, line := range p.Items {
		if line.Qty < 1 || line.UnitPriceCents < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if p.Kind == domain.KindPurchase {
			deltas[line.ProductID] += line.Qty
		} else {
			deltas[line.ProductID] -= line.Qty
		}
	}
	for productID, delta := range deltas {
		prd, ok := s.productsByID[productID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if prd.Stock+delta < 0 {
			return nil, store.ErrInsufficientStock
		}
	}
	for productID, delta := range deltas {
		prd := s.productsByID[productID]
		prd.Stock += delta
		s.productsByID[productID] = prd
	}

	if p.ID == "" {
		p.ID = xid.New("pur")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Date.IsZero() {
		p.Date = p.CreatedAt
	}
	s.purchaseSeq++
	p.InvoiceNumber = fmt.Sprintf("PUR-%s-%06d", p.Date.Format("2006"), s.purchaseSeq)
	p.Version = 1

	stored := clonePurchase(&p)
	s.purchasesByID[p.ID] = stored
	if p.IdempotencyKey != "" {
		s.purchasesByIdem[p.IdempotencyKey] = p.ID
	}
	return clonePurchase(stored), nil
}

func (s *Store) FindPurchaseByID(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (s *Store) FindPurchaseByIdempotency(_ context.Context, key string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.purchasesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(s.purchasesByID[id]), nil
}

func (s *Store) ListPurchases(_ context.Context, filter domain.RecordFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 32)
	for _, p := range s.purchasesByID {
		if !matchesFilter(filter, p.SupplierID, p.Kind, p.PaymentStatus, p.Date) {
			continue
		}
		result = append(result, *clonePurchase(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListReturnsForPurchase(_ context.Context, originalID string) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 4)
	for _, p := range s.purchasesByID {
		if p.Kind == domain.KindReturn && p.OriginalRecordID == originalID {
			result = append(result, *clonePurchase(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ReturnedQtyForPurchase(_ context.Context, originalID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int)
	for _, p := range s.purchasesByID {
		if p.Kind != domain.KindReturn || p.OriginalRecordID != originalID {
			continue
		}
		for _, line := range p.Items {
			result[line.ProductID] += line.Qty
		}
	}
	return result, nil
}

func (s *Store) AppendPurchasePayment(_ context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	p.PaymentHistory = append(p.PaymentHistory, item)
	p.AmountPaidCents = paid
	p.PaymentStatus = status
	p.Version++
	return clonePurchase(p), nil
}

func (s *Store) CreateStockAdjustment(_ context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if adj.Qty < 1 || adj.SKU == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.productIDBySKU[adj.SKU]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := s.productsByID[id]

	adj.PreviousStock = p.Stock
	switch adj.Direction {
	case domain.AdjustIncrease:
		adj.CurrentStock = p.Stock + adj.Qty
	case domain.AdjustDecrease:
		if adj.Qty > p.Stock {
			return nil, store.ErrInsufficientStock
		}
		adj.CurrentStock = p.Stock - adj.Qty
	default:
		return nil, store.ErrInvalidTransaction
	}

	if adj.ID == "" {
		adj.ID = xid.New("adj")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	p.Stock = adj.CurrentStock
	s.productsByID[id] = p
	s.adjustmentsByID[adj.ID] = adj
	created := adj
	return &created, nil
}

func (s *Store) ListStockAdjustments(_ context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockAdjustment, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockAdjustment, 0, limit)
	for _, adj := range s.adjustmentsByID {
		if sku != "" && adj.SKU != sku {
			continue
		}
		if !from.IsZero() && adj.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && adj.CreatedAt.After(to) {
			continue
		}
		result = append(result, adj)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateCustomer(_ context.Context, c domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = xid.New("cst")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.customersByID[c.ID] = c
	created := c
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, sup domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(sup.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sup.ID == "" {
		sup.ID = xid.New("sup")
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[sup.ID] = sup
	created := sup
	return &created, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sup, ok := s.suppliersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sup, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		result = append(result, sup)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func matchesFilter(filter domain.RecordFilter, partyID string, kind domain.RecordKind, status domain.PaymentStatus, date time.Time) bool {
	if filter.PartyID != "" && filter.PartyID != partyID {
		return false
	}
	if filter.Kind != "" && filter.Kind != kind {
		return false
	}
	if filter.Status != "" && filter.Status != status {
		return false
	}
	if !filter.From.IsZero() && date.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && date.After(filter.To) {
		return false
	}
	return true
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.Items = append([]domain.CartLine(nil), tx.Items...)
	clone.PaymentHistory = append([]domain.PaymentHistoryItem(nil), tx.PaymentHistory...)
	return &clone
}

func clonePurchase(p *domain.Purchase) *domain.Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Items = append([]domain.CartLine(nil), p.Items...)
	clone.PaymentHistory = append([]domain.PaymentHistoryItem(nil), p.PaymentHistory...)
	return &clone
}
