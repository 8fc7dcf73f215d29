package store

import (
	"context"
	"errors"
	"time"

	"tokopos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrVersionConflict    = errors.New("version conflict")
)

// Repository is the persistence collaborator of the ledger engine. Stock
// mutations are conditional read-modify-write operations: a decrement that
// would drive stock negative fails with ErrInsufficientStock instead of being
// applied. Installment appends are atomic per record.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// ConditionalAdjustStock applies delta to the product's stock only if the
	// resulting value stays at or above zero and the current value is at
	// least expectedMinimum. Used for standalone corrections; record commits
	// perform their own conditional updates inside the commit transaction.
	ConditionalAdjustStock(ctx context.Context, productID string, delta int, expectedMinimum int) (*domain.Product, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.RecordFilter) ([]domain.Transaction, error)
	ListReturnsForTransaction(ctx context.Context, originalID string) ([]domain.Transaction, error)
	ReturnedQtyForTransaction(ctx context.Context, originalID string) (map[string]int, error)
	AppendTransactionPayment(ctx context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Transaction, error)

	CreatePurchase(ctx context.Context, p domain.Purchase) (*domain.Purchase, error)
	FindPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error)
	FindPurchaseByIdempotency(ctx context.Context, key string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, filter domain.RecordFilter) ([]domain.Purchase, error)
	ListReturnsForPurchase(ctx context.Context, originalID string) ([]domain.Purchase, error)
	ReturnedQtyForPurchase(ctx context.Context, originalID string) (map[string]int, error)
	AppendPurchasePayment(ctx context.Context, id string, item domain.PaymentHistoryItem, paid int64, status domain.PaymentStatus, expectedVersion int) (*domain.Purchase, error)

	// CreateStockAdjustment persists the journal entry and applies its stock
	// delta as one atomic step, filling PreviousStock/CurrentStock.
	CreateStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error)
	ListStockAdjustments(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockAdjustment, error)

	CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateSupplier(ctx context.Context, s domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
