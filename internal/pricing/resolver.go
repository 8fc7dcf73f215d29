// Package pricing resolves a product's unit price for a requested tier.
//
// Resolution is exact: the resolver never falls back to a different tier. A
// price of 0 is a valid, distinct result that downstream code must treat as
// blocking; Resolve does not turn it into an error.
package pricing

import (
	"fmt"

	"tokopos/backend/internal/domain"
)

func Resolve(product domain.Product, tier domain.PriceTier) (int64, error) {
	switch tier {
	case domain.TierRetail:
		return product.PriceRetailCents, nil
	case domain.TierGeneral:
		return product.PriceGeneralCents, nil
	case domain.TierWholesale:
		return product.PriceWholesaleCents, nil
	case domain.TierPromo:
		return product.PricePromoCents, nil
	default:
		return 0, fmt.Errorf("unknown price tier %q", tier)
	}
}
