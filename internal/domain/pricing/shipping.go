package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// ShippingQuoter supplies the shipping cost for a set of items. Shipping
// logic itself is outside the pricing core; the pipeline treats the result
// as an opaque amount added undiscounted.
type ShippingQuoter interface {
	Cost(ctx context.Context, items []Item) (decimal.Decimal, error)
}

// FlatRate is a ShippingQuoter charging a fixed fee per shipment, waived
// once the subtotal reaches FreeOver (when FreeOver is positive).
type FlatRate struct {
	Fee      decimal.Decimal
	FreeOver decimal.Decimal
}

// Cost implements ShippingQuoter.
func (f FlatRate) Cost(_ context.Context, items []Item) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, nil
	}
	if f.FreeOver.IsPositive() && Subtotal(items).GreaterThanOrEqual(f.FreeOver) {
		return decimal.Zero, nil
	}
	return f.Fee, nil
}
