// Package postgres is the production Repository. Record commits run inside
// serializable transactions with conditional stock updates, so an
// insufficient-stock commit fails without touching any row. Installment
// appends are guarded by the record's version column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, sku, name, stock, price_retail_cents, price_general_cents,
		price_wholesale_cents, price_promo_cents, cost_cents, active, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceRetailCents, &p.PriceGeneralCents,
		&p.PriceWholesaleCents, &p.PricePromoCents, &p.CostCents, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, sku, name, stock, price_retail_cents, price_general_cents,
			price_wholesale_cents, price_promo_cents, cost_cents, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, product.ID, product.SKU, product.Name, product.Stock, product.PriceRetailCents,
		product.PriceGeneralCents, product.PriceWholesaleCents, product.PricePromoCents,
		product.CostCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price_retail_cents = $3, price_general_cents = $4,
			price_wholesale_cents = $5, price_promo_cents = $6, cost_cents = $7,
			active = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.PriceRetailCents, product.PriceGeneralCents,
		product.PriceWholesaleCents, product.PricePromoCents, product.CostCents, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

// ConditionalAdjustStock applies the delta in a single guarded UPDATE. The
// WHERE clause is the whole concurrency story: if another writer got there
// first and the guard no longer holds, zero rows match and nothing changes.
func (s *Store) ConditionalAdjustStock(ctx context.Context, productID string, delta int, expectedMinimum int) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock >= $3 AND stock + $2 >= 0
		RETURNING `+productColumns+`
	`, productID, delta, expectedMinimum))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, lookupErr := s.GetProductByID(ctx, productID); errors.Is(lookupErr, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrInsufficientStock
}

// --- sales ---

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Version = 1

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Sales consume stock, sale-returns restore it.
	for _, item := range tx.Items {
		delta := -item.Qty
		if tx.Kind == domain.KindReturn {
			delta = item.Qty
		}
		if err := adjustStockInTx(ctx, pgTx, item.ProductID, delta); err != nil {
			return nil, err
		}
	}

	tx.InvoiceNumber, err = nextInvoiceNumber(ctx, pgTx, "INV", tx.Date)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, invoice_number, kind, customer_id, date, subtotal_cents,
			discount_type, discount_value, discount_cents, total_cents,
			amount_paid_cents, payment_status, payment_method, bank_ref,
			original_record_id, idempotency_key, version, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, tx.ID, tx.InvoiceNumber, tx.Kind, nullIfEmpty(tx.CustomerID), tx.Date, tx.SubtotalCents,
		nullIfEmpty(string(tx.DiscountType)), tx.DiscountValue, tx.DiscountCents, tx.TotalCents,
		tx.AmountPaidCents, tx.PaymentStatus, tx.PaymentMethod, nullIfEmpty(tx.BankRef),
		nullIfEmpty(tx.OriginalRecordID), nullIfEmpty(tx.IdempotencyKey), tx.Version, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, lookupErr := s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_id, sku, tier, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, item.ProductID, item.SKU, item.Tier, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}
	for _, payment := range tx.PaymentHistory {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_payments (transaction_id, paid_at, amount_cents, method, bank_ref, note)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, payment.Date, payment.AmountCents, payment.Method, nullIfEmpty(payment.BankRef), strings.TrimSpace(payment.Note))
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := tx
	return &created, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findTransaction(ctx, "idempotency_key", key)
}

const transactionColumns = `id, invoice_number, kind, COALESCE(customer_id,''), date,
		subtotal_cents, COALESCE(discount_type,''), discount_value, discount_cents,
		total_cents, amount_paid_cents, payment_status, payment_method,
		COALESCE(bank_ref,''), COALESCE(original_record_id,''),
		COALESCE(idempotency_key,''), version, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.InvoiceNumber, &tx.Kind, &tx.CustomerID, &tx.Date,
		&tx.SubtotalCents, &tx.DiscountType, &tx.DiscountValue, &tx.DiscountCents,
		&tx.TotalCents, &tx.AmountPaidCents, &tx.PaymentStatus, &tx.PaymentMethod,
		&tx.BankRef, &tx.OriginalRecordID, &tx.IdempotencyKey, &tx.Version, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func (s *Store) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE %s = $1
	`, column)
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if tx.Items, err = s.transactionItems(ctx, tx.ID); err != nil {
		return nil, err
	}
	if tx.PaymentHistory, err = s.paymentHistory(ctx, "transaction_payments", "transaction_id", tx.ID); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) transactionItems(ctx context.Context, transactionID string) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, sku, tier, qty, unit_price_cents
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CartLine, 0, 8)
	for rows.Next() {
		var item domain.CartLine
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Tier, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) paymentHistory(ctx context.Context, table string, column string, recordID string) ([]domain.PaymentHistoryItem, error) {
	if table != "transaction_payments" && table != "purchase_payments" {
		return nil, fmt.Errorf("unsupported payment table")
	}

	query := fmt.Sprintf(`
		SELECT paid_at, amount_cents, method, COALESCE(bank_ref,''), COALESCE(note,'')
		FROM %s
		WHERE %s = $1
		ORDER BY id ASC
	`, table, column)
	rows, err := s.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PaymentHistoryItem, 0, 4)
	for rows.Next() {
		var item domain.PaymentHistoryItem
		if err := rows.Scan(&item.Date, &item.AmountCents, &item.Method, &item.BankRef, &item.Note); err != nil {
			return nil, err
		}
		item.Date = item.Date.UTC()
		history = append(history, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.RecordFilter) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ($1 = '' OR kind = $1)
			AND ($2 = '' OR customer_id = $2)
			AND ($3 = '' OR payment_status = $3)
			AND ($4::timestamptz IS NULL OR date >= $4)
			AND ($5::timestamptz IS NULL OR date <= $5)
		ORDER BY date DESC, created_at DESC
	`
	args := []any{string(filter.Kind), filter.PartyID, string(filter.Status), nullTimeValue(filter.From), nullTimeValue(filter.To)}
	if filter.Limit > 0 {
		query += ` LIMIT $6`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Items, err = s.transactionItems(ctx, result[i].ID); err != nil {
			return nil, err
		}
		if result[i].PaymentHistory, err = s.paymentHistory(ctx, "transaction_payments", "transaction_id", result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) ListReturnsForTransaction(ctx context.Context, originalID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE original_record_id = $1 AND kind = $2
		ORDER BY created_at ASC
	`, originalID, domain.KindReturn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, 4)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Items, err = s.transactionItems(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) ReturnedQtyForTransaction(ctx context.Context, originalID string) (map[string]int, error) {
	return s.returnedQty(ctx, `
		SELECT ti.product_id, COALESCE(SUM(ti.qty), 0)::int
		FROM transactions t
		JOIN transaction_items ti ON ti.transaction_id = t.id
		WHERE t.original_record_id = $1 AND t.kind = $2
		GROUP BY ti.product_id
	`, originalID)
}

func (s *Store) returnedQty(ctx context.Context, query string, originalID string) (map[string]int, error) {
	result := make(map[string]int)
	rows, err := s.db.QueryContext(ctx, query, originalID, domain.KindReturn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AppendTransactionPayment(ctx context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET amount_paid_cents = $2, payment_status = $3, version = version + 1
		WHERE id = $1 AND version = $4
	`, id, paid, status, expectedVersion)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrVersionConflict
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transaction_payments (transaction_id, paid_at, amount_cents, method, bank_ref, note)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, id, item.Date, item.AmountCents, item.Method, nullIfEmpty(item.BankRef), strings.TrimSpace(item.Note))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.FindTransactionByID(ctx, id)
}

// --- purchases ---

func (s *Store) CreatePurchase(ctx context.Context, p domain.Purchase) (*domain.Purchase, error) {
	if len(p.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if p.ID == "" {
		p.ID = xid.New("pur")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Version = 1

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Purchases add stock, purchase-returns take it back out.
	for _, item := range p.Items {
		delta := item.Qty
		if p.Kind == domain.KindReturn {
			delta = -item.Qty
		}
		if err := adjustStockInTx(ctx, pgTx, item.ProductID, delta); err != nil {
			return nil, err
		}
	}

	p.InvoiceNumber, err = nextInvoiceNumber(ctx, pgTx, "PUR", p.Date)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, invoice_number, kind, supplier_id, date, subtotal_cents,
			discount_type, discount_value, discount_cents, total_cents,
			amount_paid_cents, payment_status, payment_method, bank_ref,
			original_record_id, idempotency_key, version, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, p.ID, p.InvoiceNumber, p.Kind, nullIfEmpty(p.SupplierID), p.Date, p.SubtotalCents,
		nullIfEmpty(string(p.DiscountType)), p.DiscountValue, p.DiscountCents, p.TotalCents,
		p.AmountPaidCents, p.PaymentStatus, p.PaymentMethod, nullIfEmpty(p.BankRef),
		nullIfEmpty(p.OriginalRecordID), nullIfEmpty(p.IdempotencyKey), p.Version, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, lookupErr := s.FindPurchaseByIdempotency(ctx, p.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for _, item := range p.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, product_id, sku, tier, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, item.ProductID, item.SKU, item.Tier, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}
	for _, payment := range p.PaymentHistory {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_payments (purchase_id, paid_at, amount_cents, method, bank_ref, note)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, p.ID, payment.Date, payment.AmountCents, payment.Method, nullIfEmpty(payment.BankRef), strings.TrimSpace(payment.Note))
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := p
	return &created, nil
}

const purchaseColumns = `id, invoice_number, kind, COALESCE(supplier_id,''), date,
		subtotal_cents, COALESCE(discount_type,''), discount_value, discount_cents,
		total_cents, amount_paid_cents, payment_status, payment_method,
		COALESCE(bank_ref,''), COALESCE(original_record_id,''),
		COALESCE(idempotency_key,''), version, created_at`

func scanPurchase(row interface{ Scan(...any) error }) (*domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(&p.ID, &p.InvoiceNumber, &p.Kind, &p.SupplierID, &p.Date,
		&p.SubtotalCents, &p.DiscountType, &p.DiscountValue, &p.DiscountCents,
		&p.TotalCents, &p.AmountPaidCents, &p.PaymentStatus, &p.PaymentMethod,
		&p.BankRef, &p.OriginalRecordID, &p.IdempotencyKey, &p.Version, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Date = p.Date.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) FindPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error) {
	return s.findPurchase(ctx, "id", id)
}

func (s *Store) FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findPurchase(ctx, "idempotency_key", key)
}

func (s *Store) findPurchase(ctx context.Context, column string, value string) (*domain.Purchase, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE %s = $1
	`, column)
	p, err := scanPurchase(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if p.Items, err = s.purchaseItems(ctx, p.ID); err != nil {
		return nil, err
	}
	if p.PaymentHistory, err = s.paymentHistory(ctx, "purchase_payments", "purchase_id", p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) purchaseItems(ctx context.Context, purchaseID string) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, sku, tier, qty, unit_price_cents
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY id ASC
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CartLine, 0, 8)
	for rows.Next() {
		var item domain.CartLine
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Tier, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.RecordFilter) ([]domain.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE ($1 = '' OR kind = $1)
			AND ($2 = '' OR supplier_id = $2)
			AND ($3 = '' OR payment_status = $3)
			AND ($4::timestamptz IS NULL OR date >= $4)
			AND ($5::timestamptz IS NULL OR date <= $5)
		ORDER BY date DESC, created_at DESC
	`
	args := []any{string(filter.Kind), filter.PartyID, string(filter.Status), nullTimeValue(filter.From), nullTimeValue(filter.To)}
	if filter.Limit > 0 {
		query += ` LIMIT $6`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Purchase, 0, 64)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Items, err = s.purchaseItems(ctx, result[i].ID); err != nil {
			return nil, err
		}
		if result[i].PaymentHistory, err = s.paymentHistory(ctx, "purchase_payments", "purchase_id", result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) ListReturnsForPurchase(ctx context.Context, originalID string) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE original_record_id = $1 AND kind = $2
		ORDER BY created_at ASC
	`, originalID, domain.KindReturn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Purchase, 0, 4)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Items, err = s.purchaseItems(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) ReturnedQtyForPurchase(ctx context.Context, originalID string) (map[string]int, error) {
	return s.returnedQty(ctx, `
		SELECT pi.product_id, COALESCE(SUM(pi.qty), 0)::int
		FROM purchases p
		JOIN purchase_items pi ON pi.purchase_id = p.id
		WHERE p.original_record_id = $1 AND p.kind = $2
		GROUP BY pi.product_id
	`, originalID)
}

func (s *Store) AppendPurchasePayment(ctx context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Purchase, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	res, err := pgTx.ExecContext(ctx, `
		UPDATE purchases
		SET amount_paid_cents = $2, payment_status = $3, version = version + 1
		WHERE id = $1 AND version = $4
	`, id, paid, status, expectedVersion)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM purchases WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrVersionConflict
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchase_payments (purchase_id, paid_at, amount_cents, method, bank_ref, note)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, id, item.Date, item.AmountCents, item.Method, nullIfEmpty(item.BankRef), strings.TrimSpace(item.Note))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.FindPurchaseByID(ctx, id)
}

// --- stock adjustment journal ---

func (s *Store) CreateStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if adj.SKU == "" || adj.Qty < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if adj.ID == "" {
		adj.ID = xid.New("adj")
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	delta := adj.Qty
	if adj.Direction == domain.AdjustDecrease {
		delta = -adj.Qty
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var productID string
	var previousStock int
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE sku = $1
		FOR UPDATE
	`, adj.SKU).Scan(&productID, &previousStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if previousStock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}

	adj.PreviousStock = previousStock
	adj.CurrentStock = previousStock + delta

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock = $2, updated_at = now()
		WHERE id = $1
	`, productID, adj.CurrentStock)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (
			id, sku, direction, qty, reason_code, reason_note,
			previous_stock, current_stock, actor, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, adj.ID, adj.SKU, adj.Direction, adj.Qty, adj.Reason.Code, strings.TrimSpace(adj.Reason.Note),
		adj.PreviousStock, adj.CurrentStock, adj.Actor, adj.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := adj
	return &created, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockAdjustment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, direction, qty, reason_code, COALESCE(reason_note,''),
			previous_stock, current_stock, actor, created_at
		FROM stock_adjustments
		WHERE ($1 = '' OR sku = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, sku, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockAdjustment, 0, limit)
	for rows.Next() {
		var adj domain.StockAdjustment
		if err := rows.Scan(&adj.ID, &adj.SKU, &adj.Direction, &adj.Qty, &adj.Reason.Code,
			&adj.Reason.Note, &adj.PreviousStock, &adj.CurrentStock, &adj.Actor, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adj.CreatedAt = adj.CreatedAt.UTC()
		result = append(result, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// --- customers and suppliers ---

func (s *Store) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if c.ID == "" {
		c.ID = xid.New("cst")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, default_tier, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, c.ID, c.Name, strings.TrimSpace(c.Phone), nullIfEmpty(string(c.DefaultTier)), c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	created := c
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(default_tier,''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.DefaultTier, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(default_tier,''), created_at
		FROM customers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.DefaultTier, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateSupplier(ctx context.Context, sup domain.Supplier) (*domain.Supplier, error) {
	sup.Name = strings.TrimSpace(sup.Name)
	if sup.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if sup.ID == "" {
		sup.ID = xid.New("sup")
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, sup.ID, sup.Name, strings.TrimSpace(sup.Phone), sup.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	created := sup
	return &created, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sup.CreatedAt = sup.CreatedAt.UTC()
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

// --- audit logs ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "kasir"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- helpers ---

// adjustStockInTx applies one conditional stock delta inside an open commit
// transaction. The stock + delta >= 0 guard makes an oversold line fail with
// zero rows affected instead of a constraint error.
func adjustStockInTx(ctx context.Context, pgTx *sql.Tx, productID string, delta int) error {
	res, err := pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrInsufficientStock
	}
	return nil
}

// nextInvoiceNumber bumps the per-kind per-year counter and formats the
// invoice number, for example INV-2026-000042.
func nextInvoiceNumber(ctx context.Context, pgTx *sql.Tx, prefix string, date time.Time) (string, error) {
	year := date.UTC().Year()
	var seq int
	err := pgTx.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (prefix, year, seq)
		VALUES ($1,$2,1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq
	`, prefix, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTimeValue(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
