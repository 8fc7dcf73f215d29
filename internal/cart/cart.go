// Package cart builds and validates the line set of one in-progress sale or
// purchase. It is pure computation: every failure mode is reported before any
// persistence call, and a cart never mutates product stock itself.
package cart

import (
	"fmt"
	"math"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
)

// ZeroPriceError blocks a line whose tier price resolves to 0. An unset tier
// price is valid data but never a committable price.
type ZeroPriceError struct {
	SKU  string
	Tier domain.PriceTier
}

func (e ZeroPriceError) Error() string {
	return fmt.Sprintf("product %s has no %s price set", e.SKU, e.Tier)
}

// StockExceededError reports that the aggregate cart quantity for one product
// (summed across all tiers) would exceed the available stock.
type StockExceededError struct {
	SKU       string
	Requested int
	Available int
}

func (e StockExceededError) Error() string {
	return fmt.Sprintf("stock exceeded for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// DiscountRangeError reports a raw discount value outside its legal range.
// Out-of-range values are rejected at commit, never silently clamped.
type DiscountRangeError struct {
	Type  domain.DiscountType
	Value float64
	Max   float64
}

func (e DiscountRangeError) Error() string {
	return fmt.Sprintf("%s discount %v out of range [0, %v]", e.Type, e.Value, e.Max)
}

type MissingBankRefError struct{}

func (MissingBankRefError) Error() string { return "transfer payment requires a bank reference" }

// Cart aggregates lines for one record. Purchases reuse the same rules with
// the stock ceiling disabled (stock flows in, not out).
type Cart struct {
	lines         []domain.CartLine
	products      map[string]domain.Product
	enforceStock  bool
	discountType  domain.DiscountType
	discountValue float64
}

func NewSaleCart() *Cart {
	return &Cart{products: make(map[string]domain.Product), enforceStock: true}
}

func NewPurchaseCart() *Cart {
	return &Cart{products: make(map[string]domain.Product)}
}

func (c *Cart) Lines() []domain.CartLine { return c.lines }

// AddLine resolves the tier price and either increments an existing matching
// line (same product, same tier) or appends a new line with qty 1. The
// resolved price is snapshotted on the line.
func (c *Cart) AddLine(product domain.Product, tier domain.PriceTier) error {
	price, err := pricing.Resolve(product, tier)
	if err != nil {
		return err
	}
	if price == 0 {
		return ZeroPriceError{SKU: product.SKU, Tier: tier}
	}
	if err := c.checkCeiling(product, 1); err != nil {
		return err
	}
	c.products[product.ID] = product

	for i := range c.lines {
		if c.lines[i].ProductID == product.ID && c.lines[i].Tier == tier {
			c.lines[i].Qty++
			return nil
		}
	}
	c.lines = append(c.lines, domain.CartLine{
		ProductID:      product.ID,
		SKU:            product.SKU,
		Tier:           tier,
		Qty:            1,
		UnitPriceCents: price,
	})
	return nil
}

// AddCostLine appends a cost-priced line for the purchase direction, where
// prices come from the supplier's unit cost rather than a tier.
func (c *Cart) AddCostLine(product domain.Product, qty int, unitCostCents int64) error {
	if qty < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	if unitCostCents < 1 {
		return ZeroPriceError{SKU: product.SKU, Tier: domain.TierGeneral}
	}
	if err := c.checkCeiling(product, qty); err != nil {
		return err
	}
	c.products[product.ID] = product

	for i := range c.lines {
		if c.lines[i].ProductID == product.ID && c.lines[i].UnitPriceCents == unitCostCents {
			c.lines[i].Qty += qty
			return nil
		}
	}
	c.lines = append(c.lines, domain.CartLine{
		ProductID:      product.ID,
		SKU:            product.SKU,
		Tier:           domain.TierGeneral,
		Qty:            qty,
		UnitPriceCents: unitCostCents,
	})
	return nil
}

// SetLineQty replaces the quantity of line i, re-checking the per-product
// ceiling across all lines sharing the product.
func (c *Cart) SetLineQty(i int, qty int) error {
	if i < 0 || i >= len(c.lines) {
		return fmt.Errorf("line index %d out of range", i)
	}
	if qty < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	line := c.lines[i]
	product, ok := c.products[line.ProductID]
	if !ok {
		return fmt.Errorf("unknown product %s on line %d", line.ProductID, i)
	}
	if err := c.checkCeiling(product, qty-line.Qty); err != nil {
		return err
	}
	c.lines[i].Qty = qty
	return nil
}

// SetLineTier switches line i to a new tier and re-resolves the price
// snapshot. Merging with an existing line of the target tier is the caller's
// concern; the engine treats the lines as distinct.
func (c *Cart) SetLineTier(i int, tier domain.PriceTier) error {
	if i < 0 || i >= len(c.lines) {
		return fmt.Errorf("line index %d out of range", i)
	}
	product, ok := c.products[c.lines[i].ProductID]
	if !ok {
		return fmt.Errorf("unknown product %s on line %d", c.lines[i].ProductID, i)
	}
	price, err := pricing.Resolve(product, tier)
	if err != nil {
		return err
	}
	if price == 0 {
		return ZeroPriceError{SKU: product.SKU, Tier: tier}
	}
	c.lines[i].Tier = tier
	c.lines[i].UnitPriceCents = price
	return nil
}

func (c *Cart) RemoveLine(i int) error {
	if i < 0 || i >= len(c.lines) {
		return fmt.Errorf("line index %d out of range", i)
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

// checkCeiling sums quantities across every line sharing the product (tiers
// included) and rejects any increase that would pass the known stock.
func (c *Cart) checkCeiling(product domain.Product, delta int) error {
	if !c.enforceStock {
		return nil
	}
	total := delta
	for _, line := range c.lines {
		if line.ProductID == product.ID {
			total += line.Qty
		}
	}
	if total > product.Stock {
		return StockExceededError{SKU: product.SKU, Requested: total, Available: product.Stock}
	}
	return nil
}

func (c *Cart) SetDiscount(t domain.DiscountType, value float64) {
	c.discountType = t
	c.discountValue = value
}

func (c *Cart) SubtotalCents() int64 {
	var subtotal int64
	for _, line := range c.lines {
		subtotal += line.LineTotalCents()
	}
	return subtotal
}

// DiscountCents computes the discount amount from the raw value. It assumes
// the value already passed validateDiscount; callers outside the commit path
// get a best-effort figure for display.
func (c *Cart) DiscountCents() int64 {
	subtotal := c.SubtotalCents()
	switch c.discountType {
	case domain.DiscountPercentage:
		return int64(math.Round(float64(subtotal) * c.discountValue / 100))
	case domain.DiscountFixed:
		return int64(c.discountValue)
	default:
		return 0
	}
}

func (c *Cart) TotalCents() int64 {
	total := c.SubtotalCents() - c.DiscountCents()
	if total < 0 {
		return 0
	}
	return total
}

func (c *Cart) validateDiscount() error {
	switch c.discountType {
	case domain.DiscountNone:
		if c.discountValue != 0 {
			return DiscountRangeError{Type: c.discountType, Value: c.discountValue, Max: 0}
		}
	case domain.DiscountPercentage:
		if c.discountValue < 0 || c.discountValue > 100 {
			return DiscountRangeError{Type: c.discountType, Value: c.discountValue, Max: 100}
		}
	case domain.DiscountFixed:
		subtotal := float64(c.SubtotalCents())
		if c.discountValue < 0 || c.discountValue > subtotal {
			return DiscountRangeError{Type: c.discountType, Value: c.discountValue, Max: subtotal}
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", store.ErrInvalidTransaction, c.discountType)
	}
	return nil
}

// Validate runs every commit precondition against live stock levels. It
// returns the first blocking error. liveStock maps product ID to the stock
// read just before commit; the store re-checks with a conditional update in
// case it went stale.
func (c *Cart) Validate(liveStock map[string]int) error {
	if len(c.lines) == 0 {
		return fmt.Errorf("cart is empty")
	}
	for _, line := range c.lines {
		if line.UnitPriceCents == 0 {
			return ZeroPriceError{SKU: line.SKU, Tier: line.Tier}
		}
		if line.Qty < 1 {
			return fmt.Errorf("line for %s has non-positive quantity", line.SKU)
		}
	}
	if err := c.validateDiscount(); err != nil {
		return err
	}
	if c.enforceStock {
		requested := make(map[string]int, len(c.lines))
		for _, line := range c.lines {
			requested[line.ProductID] += line.Qty
		}
		for productID, qty := range requested {
			available, ok := liveStock[productID]
			if !ok || qty > available {
				sku := productID
				if p, found := c.products[productID]; found {
					sku = p.SKU
				}
				return StockExceededError{SKU: sku, Requested: qty, Available: available}
			}
		}
	}
	return nil
}
