package cart

import (
	"errors"
	"testing"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

func mie() domain.Product {
	return domain.Product{
		ID:                  "prd-mie",
		SKU:                 "SKU-MIE-01",
		Name:                "Mie Goreng Instan",
		Stock:               10,
		PriceRetailCents:    3500,
		PriceGeneralCents:   3300,
		PriceWholesaleCents: 3000,
		PricePromoCents:     0,
	}
}

func TestAddLineMergesSameProductAndTier(t *testing.T) {
	c := NewSaleCart()
	product := mie()

	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add line again: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(lines))
	}
	if lines[0].Qty != 2 {
		t.Fatalf("expected qty 2, got %d", lines[0].Qty)
	}
}

func TestAddLineDifferentTiersStaySeparate(t *testing.T) {
	c := NewSaleCart()
	product := mie()

	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add retail: %v", err)
	}
	if err := c.AddLine(product, domain.TierWholesale); err != nil {
		t.Fatalf("add wholesale: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	if lines[0].UnitPriceCents == lines[1].UnitPriceCents {
		t.Fatalf("tiers must keep their own price snapshots")
	}
}

func TestAddLineRejectsZeroPrice(t *testing.T) {
	c := NewSaleCart()

	err := c.AddLine(mie(), domain.TierPromo)
	var zero ZeroPriceError
	if !errors.As(err, &zero) {
		t.Fatalf("expected ZeroPriceError, got %v", err)
	}
	if zero.Tier != domain.TierPromo {
		t.Fatalf("error should name the blocking tier, got %s", zero.Tier)
	}
}

func TestStockCeilingSpansTiers(t *testing.T) {
	c := NewSaleCart()
	product := mie()
	product.Stock = 5

	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add retail: %v", err)
	}
	if err := c.SetLineQty(0, 3); err != nil {
		t.Fatalf("set qty: %v", err)
	}
	if err := c.AddLine(product, domain.TierWholesale); err != nil {
		t.Fatalf("add wholesale: %v", err)
	}
	if err := c.SetLineQty(1, 2); err != nil {
		t.Fatalf("fill remaining stock: %v", err)
	}

	// 3 + 2 lines already hold all 5 units; one more unit on any tier
	// must fail.
	err := c.AddLine(product, domain.TierGeneral)
	var exceeded StockExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected StockExceededError, got %v", err)
	}
	if exceeded.Requested != 6 || exceeded.Available != 5 {
		t.Fatalf("unexpected ceiling report: %+v", exceeded)
	}
}

func TestPurchaseCartIgnoresStockCeiling(t *testing.T) {
	c := NewPurchaseCart()
	product := mie()
	product.Stock = 0

	if err := c.AddCostLine(product, 50, 2600); err != nil {
		t.Fatalf("purchase lines are not stock-limited: %v", err)
	}
	if c.SubtotalCents() != 50*2600 {
		t.Fatalf("subtotal = %d", c.SubtotalCents())
	}
}

func TestSetLineTierReResolvesPrice(t *testing.T) {
	c := NewSaleCart()
	if err := c.AddLine(mie(), domain.TierRetail); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.SetLineTier(0, domain.TierWholesale); err != nil {
		t.Fatalf("switch tier: %v", err)
	}
	if got := c.Lines()[0].UnitPriceCents; got != 3000 {
		t.Fatalf("expected wholesale snapshot 3000, got %d", got)
	}

	// Switching to an unset tier is blocked and leaves the line intact.
	if err := c.SetLineTier(0, domain.TierPromo); err == nil {
		t.Fatalf("expected zero-price rejection")
	}
	if got := c.Lines()[0].UnitPriceCents; got != 3000 {
		t.Fatalf("failed switch must not change the snapshot, got %d", got)
	}
}

func TestUnknownDiscountTypeIsInvalidInput(t *testing.T) {
	c := NewSaleCart()
	if err := c.AddLine(mie(), domain.TierRetail); err != nil {
		t.Fatalf("add line: %v", err)
	}
	c.SetDiscount(domain.DiscountType("voucher"), 10)

	err := c.Validate(map[string]int{"prd-mie": 10})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid-input error for unknown discount type, got %v", err)
	}
}

func TestPercentageDiscountBounds(t *testing.T) {
	product := mie()

	for _, value := range []float64{-1, 100.01, 150} {
		c := NewSaleCart()
		if err := c.AddLine(product, domain.TierRetail); err != nil {
			t.Fatalf("add: %v", err)
		}
		c.SetDiscount(domain.DiscountPercentage, value)

		err := c.Validate(map[string]int{product.ID: product.Stock})
		var rangeErr DiscountRangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("percentage %v: expected DiscountRangeError, got %v", value, err)
		}
	}

	c := NewSaleCart()
	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add: %v", err)
	}
	c.SetDiscount(domain.DiscountPercentage, 100)
	if err := c.Validate(map[string]int{product.ID: product.Stock}); err != nil {
		t.Fatalf("100%% discount is legal: %v", err)
	}
	if c.TotalCents() != 0 {
		t.Fatalf("100%% discount total = %d, want 0", c.TotalCents())
	}
}

func TestFixedDiscountCappedBySubtotal(t *testing.T) {
	product := mie()
	c := NewSaleCart()
	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add: %v", err)
	}

	c.SetDiscount(domain.DiscountFixed, float64(c.SubtotalCents()+1))
	err := c.Validate(map[string]int{product.ID: product.Stock})
	var rangeErr DiscountRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected DiscountRangeError, got %v", err)
	}

	c.SetDiscount(domain.DiscountFixed, float64(c.SubtotalCents()))
	if err := c.Validate(map[string]int{product.ID: product.Stock}); err != nil {
		t.Fatalf("fixed discount equal to subtotal is legal: %v", err)
	}
}

func TestValidateAgainstLiveStock(t *testing.T) {
	product := mie()
	c := NewSaleCart()
	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.SetLineQty(0, 4); err != nil {
		t.Fatalf("set qty: %v", err)
	}

	// Stock moved between cart building and commit.
	err := c.Validate(map[string]int{product.ID: 3})
	var exceeded StockExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected StockExceededError against live stock, got %v", err)
	}
}

func TestValidateEmptyCart(t *testing.T) {
	c := NewSaleCart()
	if err := c.Validate(nil); err == nil {
		t.Fatalf("empty cart must not validate")
	}
}

func TestDiscountRounding(t *testing.T) {
	product := mie()
	c := NewSaleCart()
	if err := c.AddLine(product, domain.TierRetail); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.SetLineQty(0, 3); err != nil {
		t.Fatalf("set qty: %v", err)
	}

	// 10500 * 33% = 3465, exact. 10500 * 33.33% = 3499.65 rounds to 3500.
	c.SetDiscount(domain.DiscountPercentage, 33.33)
	if got := c.DiscountCents(); got != 3500 {
		t.Fatalf("rounded discount = %d, want 3500", got)
	}
	if got := c.TotalCents(); got != 7000 {
		t.Fatalf("total = %d, want 7000", got)
	}
}
