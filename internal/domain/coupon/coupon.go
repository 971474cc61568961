package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when a coupon code does not resolve to a rule.
	ErrNotFound = errors.New("coupon not found")
	// ErrNotApplicable is returned when a coupon exists but is inactive,
	// outside its validity window, or has exhausted its usage limit.
	ErrNotApplicable = errors.New("coupon not applicable")
	// ErrBelowMinPurchase is returned when the cart subtotal does not reach
	// the coupon's minimum purchase requirement.
	ErrBelowMinPurchase = errors.New("subtotal below coupon minimum purchase")
	// ErrPerCustomerLimit is returned when the customer has already redeemed
	// the coupon the maximum allowed number of times.
	ErrPerCustomerLimit = errors.New("coupon per-customer limit reached")
)

// Rule is an immutable snapshot of a coupon's discount behaviour and
// eligibility constraints. Zero values mean "no constraint" for MinPurchase,
// MaxDiscount, UsageLimit and PerCustomerLimit. EndsAt is nil for coupons
// without an expiry.
type Rule struct {
	Code             string
	MerchantID       string
	Type             DiscountType
	Value            decimal.Decimal
	MinPurchase      decimal.Decimal
	MaxDiscount      decimal.Decimal
	UsageLimit       int
	UsedCount        int
	PerCustomerLimit int
	StartsAt         time.Time
	EndsAt           *time.Time
	Active           bool
}

// Applied holds the outcome of successfully applying a coupon to a subtotal.
type Applied struct {
	Code   string
	Amount decimal.Decimal
}

// Repository provides lookup and redemption of coupon rules.
//
// Redeem must increment the usage counter as a single atomic conditional
// update so that concurrent redemptions can never push UsedCount past
// UsageLimit. It returns ErrNotApplicable when the limit is already
// exhausted and ErrNotFound for unknown codes.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	Redeem(ctx context.Context, code string) error
	CustomerRedemptions(ctx context.Context, code, customerID string) (int, error)
}
