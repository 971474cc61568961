package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// IsValid reports whether the rule may be applied at the given instant.
// It checks the activation flag, the validity window, and the global usage
// limit. It does not check minimum purchase or per-customer limits; those
// depend on the cart and the customer and are enforced by Engine.Quote.
// Pure function of the rule snapshot and now.
func IsValid(r *Rule, now time.Time) bool {
	if !r.Active {
		return false
	}
	if now.Before(r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	if r.UsageLimit > 0 && r.UsedCount >= r.UsageLimit {
		return false
	}
	return true
}

// Discount computes the monetary discount the rule yields for the given
// subtotal. The result is capped by MaxDiscount when set, clamped to the
// subtotal so a discount can never drive a total negative, and rounded to
// 2 decimal places. Callers must check IsValid first; Discount itself is
// unconditional.
func Discount(r *Rule, subtotal decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch r.Type {
	case DiscountPercentage:
		raw = subtotal.Mul(r.Value).Div(hundred)
	case DiscountFixed:
		raw = r.Value
	default:
		return zero
	}

	if r.MaxDiscount.IsPositive() {
		raw = decimal.Min(raw, r.MaxDiscount)
	}
	raw = decimal.Min(raw, subtotal)

	return floorAtZero(raw).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
