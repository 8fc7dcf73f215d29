package domain

import "time"

// PriceTier selects which of a product's four price points applies to a cart
// line. Tiers are never substituted for one another: an unset tier price
// resolves to 0 and blocks the line at commit time.
type PriceTier string

const (
	TierRetail    PriceTier = "retail"
	TierGeneral   PriceTier = "general"
	TierWholesale PriceTier = "wholesale"
	TierPromo     PriceTier = "promo"
)

func (t PriceTier) Valid() bool {
	switch t {
	case TierRetail, TierGeneral, TierWholesale, TierPromo:
		return true
	default:
		return false
	}
}

type Product struct {
	ID                  string    `json:"id"`
	SKU                 string    `json:"sku"`
	Name                string    `json:"name"`
	Stock               int       `json:"stock"`
	PriceRetailCents    int64     `json:"price_retail_cents"`
	PriceGeneralCents   int64     `json:"price_general_cents"`
	PriceWholesaleCents int64     `json:"price_wholesale_cents"`
	PricePromoCents     int64     `json:"price_promo_cents"`
	CostCents           int64     `json:"cost_cents"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU                 string `json:"sku"`
	Name                string `json:"name"`
	InitialStock        int    `json:"initial_stock"`
	PriceRetailCents    int64  `json:"price_retail_cents"`
	PriceGeneralCents   int64  `json:"price_general_cents"`
	PriceWholesaleCents int64  `json:"price_wholesale_cents"`
	PricePromoCents     int64  `json:"price_promo_cents"`
	CostCents           int64  `json:"cost_cents"`
}

type ProductUpdateRequest struct {
	Name                *string `json:"name,omitempty"`
	PriceRetailCents    *int64  `json:"price_retail_cents,omitempty"`
	PriceGeneralCents   *int64  `json:"price_general_cents,omitempty"`
	PriceWholesaleCents *int64  `json:"price_wholesale_cents,omitempty"`
	PricePromoCents     *int64  `json:"price_promo_cents,omitempty"`
	CostCents           *int64  `json:"cost_cents,omitempty"`
	Active              *bool   `json:"active,omitempty"`
}

// CartLine is one priced line of a sale or purchase. The unit price is a
// snapshot taken when the line was added; changing the tier re-resolves it.
type CartLine struct {
	ProductID      string    `json:"product_id"`
	SKU            string    `json:"sku"`
	Tier           PriceTier `json:"tier"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

func (l CartLine) LineTotalCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}

type RecordKind string

const (
	KindSale     RecordKind = "sale"
	KindPurchase RecordKind = "purchase"
	KindReturn   RecordKind = "return"
)

type PaymentMethod string

const (
	PayCash     PaymentMethod = "cash"
	PayTransfer PaymentMethod = "transfer"
	PayDeferred PaymentMethod = "deferred"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayTransfer, PayDeferred:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

type DiscountType string

const (
	DiscountNone       DiscountType = ""
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type PaymentHistoryItem struct {
	Date        time.Time     `json:"date"`
	AmountCents int64         `json:"amount_cents"`
	Method      PaymentMethod `json:"method"`
	BankRef     string        `json:"bank_ref,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// Transaction is a customer-facing sale, or a sale-return when Kind is
// KindReturn and OriginalRecordID points at the sale being reversed. A
// persisted record is never mutated in place except for AmountPaidCents,
// PaymentStatus and the append-only PaymentHistory.
type Transaction struct {
	ID               string               `json:"id"`
	InvoiceNumber    string               `json:"invoice_number"`
	Kind             RecordKind           `json:"kind"`
	CustomerID       string               `json:"customer_id,omitempty"`
	Date             time.Time            `json:"date"`
	Items            []CartLine           `json:"items"`
	SubtotalCents    int64                `json:"subtotal_cents"`
	DiscountType     DiscountType         `json:"discount_type,omitempty"`
	DiscountValue    float64              `json:"discount_value,omitempty"`
	DiscountCents    int64                `json:"discount_cents"`
	TotalCents       int64                `json:"total_cents"`
	AmountPaidCents  int64                `json:"amount_paid_cents"`
	PaymentStatus    PaymentStatus        `json:"payment_status"`
	PaymentMethod    PaymentMethod        `json:"payment_method"`
	BankRef          string               `json:"bank_ref,omitempty"`
	OriginalRecordID string               `json:"original_record_id,omitempty"`
	PaymentHistory   []PaymentHistoryItem `json:"payment_history"`
	IdempotencyKey   string               `json:"-"`
	Version          int                  `json:"-"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Purchase mirrors Transaction for the supplier side: stock flows in on a
// purchase and back out on a purchase-return.
type Purchase struct {
	ID               string               `json:"id"`
	InvoiceNumber    string               `json:"invoice_number"`
	Kind             RecordKind           `json:"kind"`
	SupplierID       string               `json:"supplier_id,omitempty"`
	Date             time.Time            `json:"date"`
	Items            []CartLine           `json:"items"`
	SubtotalCents    int64                `json:"subtotal_cents"`
	DiscountType     DiscountType         `json:"discount_type,omitempty"`
	DiscountValue    float64              `json:"discount_value,omitempty"`
	DiscountCents    int64                `json:"discount_cents"`
	TotalCents       int64                `json:"total_cents"`
	AmountPaidCents  int64                `json:"amount_paid_cents"`
	PaymentStatus    PaymentStatus        `json:"payment_status"`
	PaymentMethod    PaymentMethod        `json:"payment_method"`
	BankRef          string               `json:"bank_ref,omitempty"`
	OriginalRecordID string               `json:"original_record_id,omitempty"`
	PaymentHistory   []PaymentHistoryItem `json:"payment_history"`
	IdempotencyKey   string               `json:"-"`
	Version          int                  `json:"-"`
	CreatedAt        time.Time            `json:"created_at"`
}

type AdjustDirection string

const (
	AdjustIncrease AdjustDirection = "increase"
	AdjustDecrease AdjustDirection = "decrease"
)

// AdjustReason is a tagged reason code. ReasonOther requires a free-text
// Note; every other code must come from the direction-specific allowed set.
type AdjustReason struct {
	Code string `json:"code"`
	Note string `json:"note,omitempty"`
}

const (
	ReasonSurplus    = "surplus_found"
	ReasonCorrection = "count_correction"
	ReasonDamaged    = "damaged"
	ReasonExpired    = "expired"
	ReasonLost       = "lost"
	ReasonOther      = "other"
)

// StockAdjustment is one immutable journal entry of a manual stock
// correction. A wrong adjustment is corrected by a new entry, never edited.
type StockAdjustment struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Direction     AdjustDirection `json:"direction"`
	Qty           int             `json:"qty"`
	Reason        AdjustReason    `json:"reason"`
	PreviousStock int             `json:"previous_stock"`
	CurrentStock  int             `json:"current_stock"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	DefaultTier PriceTier `json:"default_tier,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordFilter narrows transaction/purchase listings. Zero values mean no
// restriction for that field.
type RecordFilter struct {
	PartyID string
	Kind    RecordKind
	Status  PaymentStatus
	From    time.Time
	To      time.Time
	Limit   int
}

// BalanceSummary is the read-side receivable/payable aggregate for a filter
// window. TotalDebtCents only counts records whose status is not paid.
type BalanceSummary struct {
	TotalSalesCents int64 `json:"total_sales_cents"`
	TotalPaidCents  int64 `json:"total_paid_cents"`
	TotalDebtCents  int64 `json:"total_debt_cents"`
	RecordCount     int   `json:"record_count"`
}
