package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine decides whether a coupon code may be applied to a given subtotal
// and computes the resulting discount. It performs every check except the
// atomic usage increment, which happens at redemption time inside the
// checkout transaction.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// WithClock replaces the engine's time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Quote looks up the coupon rule for the given code, checks applicability
// against the subtotal and the customer's redemption history, and returns
// the computed discount. No side effects: the usage counter is untouched.
func (e *Engine) Quote(ctx context.Context, code, customerID string, subtotal decimal.Decimal) (*Applied, error) {
	rule, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !IsValid(rule, e.now()) {
		return nil, ErrNotApplicable
	}

	if rule.MinPurchase.IsPositive() && subtotal.LessThan(rule.MinPurchase) {
		return nil, ErrBelowMinPurchase
	}

	if rule.PerCustomerLimit > 0 && customerID != "" {
		used, err := e.repo.CustomerRedemptions(ctx, code, customerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer redemptions")
		}
		if used >= rule.PerCustomerLimit {
			return nil, ErrPerCustomerLimit
		}
	}

	return &Applied{
		Code:   rule.Code,
		Amount: Discount(rule, subtotal),
	}, nil
}
