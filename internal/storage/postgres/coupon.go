package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketd/checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, merchant_id, discount_type, value, min_purchase, max_discount,
		usage_limit, used_count, per_customer_limit, starts_at, ends_at, active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	// The WHERE clause makes the increment conditional: when the limit is
	// already reached no row matches and zero rows are affected. This is
	// the whole concurrency story for usage caps.
	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE UPPER(code) = UPPER($1)
		AND (usage_limit = 0 OR used_count < usage_limit)`

	countCustomerRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions
		WHERE UPPER(coupon_code) = UPPER($1) AND customer_id = $2`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon rule by its code (case-insensitive).
// Returns coupon.ErrNotFound when no such coupon exists; validity checks
// are the engine's business, not the lookup's.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// Redeem atomically consumes one coupon use. Returns coupon.ErrNotApplicable
// when the usage limit was already exhausted, coupon.ErrNotFound for unknown
// codes.
func (r *CouponRepository) Redeem(ctx context.Context, code string) error {
	return redeem(ctx, r.pool, code)
}

// CustomerRedemptions counts how many times the customer has redeemed the
// coupon on finalized orders.
func (r *CouponRepository) CustomerRedemptions(ctx context.Context, code, customerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countCustomerRedemptionsSQL, code, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting redemptions for coupon %q: %w", code, err)
	}
	return n, nil
}

// execer covers both pgxpool.Pool and pgx.Tx so redeem can run inside the
// checkout transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// redeem performs the conditional increment against q and interprets the
// affected-row count.
func redeem(ctx context.Context, q execer, code string) error {
	tag, err := q.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotApplicable
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		value        decimal.Decimal
		minPurchase  decimal.Decimal
		maxDiscount  decimal.Decimal
		usageLimit   int32
		usedCount    int32
		perCustomer  int32
		endsAt       *time.Time
	)
	err := row.Scan(
		&rule.Code, &rule.MerchantID, &discountType, &value, &minPurchase, &maxDiscount,
		&usageLimit, &usedCount, &perCustomer, &rule.StartsAt, &endsAt, &rule.Active,
	)
	rule.Type = coupon.DiscountType(discountType)
	rule.Value = value
	rule.MinPurchase = minPurchase
	rule.MaxDiscount = maxDiscount
	rule.UsageLimit = int(usageLimit)
	rule.UsedCount = int(usedCount)
	rule.PerCustomerLimit = int(perCustomer)
	rule.EndsAt = endsAt
	return rule, err
}
