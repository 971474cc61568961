// Package pricing implements the deterministic aggregation from cart line
// items to a final payable total. The same pipeline runs whether a cart is
// being previewed or frozen into an order, so the two can never disagree.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvariantViolation signals that a computed summary does not satisfy
// total == subtotal - discount + tax + shipping. It indicates a bug in the
// pipeline, never user error.
var ErrInvariantViolation = errors.New("pricing invariant violation")

// Item is a cart or order line for pricing purposes. UnitPrice is the price
// captured at the time the product was added.
type Item struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Summary is the immutable result of one pipeline run. All fields are
// rounded to 2 decimal places.
type Summary struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// String renders the summary for logs and test diagnostics.
func (s Summary) String() string {
	return "subtotal=" + s.Subtotal.String() +
		" discount=" + s.Discount.String() +
		" tax=" + s.Tax.String() +
		" shipping=" + s.Shipping.String() +
		" total=" + s.Total.String()
}

// Subtotal returns the sum of unit price times quantity across all items,
// rounded to 2 decimal places.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum.Round(2)
}

// Quote runs the pricing pipeline in its fixed order: subtotal, discount,
// taxable base, tax, shipping, total. Tax is computed on the discounted
// base, and shipping is added undiscounted; reordering either would change
// totals. An empty item list short-circuits to an all-zero summary.
//
// The discount is re-clamped to [0, subtotal] regardless of where it came
// from; the pipeline does not trust callers with that bound.
func Quote(items []Item, discount, taxRate, shipping decimal.Decimal) Summary {
	if len(items) == 0 {
		return Summary{
			Subtotal: decimal.Zero,
			Discount: decimal.Zero,
			Tax:      decimal.Zero,
			Shipping: decimal.Zero,
			Total:    decimal.Zero,
		}
	}

	subtotal := Subtotal(items)

	discount = decimal.Min(discount.Round(2), subtotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	taxable := subtotal.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}

	tax := taxable.Mul(taxRate).Round(2)
	shipping = shipping.Round(2)
	total := taxable.Add(tax).Add(shipping)

	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}

// Verify re-checks the additive identity on a summary. It runs before a
// summary is frozen into an order or invoice.
func Verify(s Summary) error {
	want := s.Subtotal.Sub(s.Discount).Add(s.Tax).Add(s.Shipping)
	if !s.Total.Equal(want) {
		return errors.Wrapf(ErrInvariantViolation,
			"total %s != subtotal %s - discount %s + tax %s + shipping %s",
			s.Total, s.Subtotal, s.Discount, s.Tax, s.Shipping)
	}
	return nil
}
