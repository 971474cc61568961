package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketd/checkout/internal/domain/order"
	"github.com/marketd/checkout/internal/numbering"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, order_number, customer_id, coupon_code,
		subtotal, discount, tax, shipping, total, status, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, position)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertInvoiceSQL = `INSERT INTO invoices (id, invoice_number, order_id,
		subtotal, discount, tax, shipping, total, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_code, customer_id, order_id, redeemed_at)
		VALUES ($1, $2, $3, $4)`

	getOrderSQL = `SELECT id, order_number, customer_id, coupon_code,
		subtotal, discount, tax, shipping, total, status, payment_status,
		created_at, confirmed_at, shipped_at, delivered_at, cancelled_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`

	listOrdersByCustomerSQL = `SELECT id, order_number, customer_id, coupon_code,
		subtotal, discount, tax, shipping, total, status, payment_status,
		created_at, confirmed_at, shipped_at, delivered_at, cancelled_at
		FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`

	getInvoiceSQL = `SELECT id, invoice_number, order_id,
		subtotal, discount, tax, shipping, total, issued_at
		FROM invoices WHERE order_id = $1`
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique index conflicts.
const uniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Freeze persists the order, its items, and the invoice in one transaction.
// When the order carries a coupon, the usage counter increment and the
// redemption record join the same transaction, so a checkout and its coupon
// consumption commit or roll back together. A unique violation on either
// document number maps to numbering.ErrCollision so the caller can retry
// with fresh numbers.
func (r *OrderRepository) Freeze(ctx context.Context, o *order.Order, inv *order.Invoice) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning freeze: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.CustomerID, o.CouponCode,
		o.Subtotal, o.Discount, o.Tax, o.Shipping, o.Total,
		string(o.Status), string(o.PaymentStatus), o.CreatedAt,
	)
	if err != nil {
		return freezeErr("inserting order", o.Number, err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			o.ID, it.ProductID, it.Name, it.UnitPrice, it.Quantity, i); err != nil {
			return fmt.Errorf("inserting order item %q: %w", it.ProductID, err)
		}
	}

	_, err = tx.Exec(ctx, insertInvoiceSQL,
		inv.ID, inv.Number, inv.OrderID,
		inv.Subtotal, inv.Discount, inv.Tax, inv.Shipping, inv.Total, inv.IssuedAt,
	)
	if err != nil {
		return freezeErr("inserting invoice", inv.Number, err)
	}

	if o.CouponCode != "" {
		if err := redeem(ctx, tx, o.CouponCode); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertRedemptionSQL,
			o.CouponCode, o.CustomerID, o.ID, o.CreatedAt); err != nil {
			return fmt.Errorf("recording redemption of %q: %w", o.CouponCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing freeze: %w", err)
	}
	return nil
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	itemRows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items for order %q: %w", id, err)
	}

	return &o, nil
}

// GetInvoice returns the invoice derived from the given order.
func (r *OrderRepository) GetInvoice(ctx context.Context, orderID string) (*order.Invoice, error) {
	var inv order.Invoice
	err := r.pool.QueryRow(ctx, getInvoiceSQL, orderID).Scan(
		&inv.ID, &inv.Number, &inv.OrderID,
		&inv.Subtotal, &inv.Discount, &inv.Tax, &inv.Shipping, &inv.Total, &inv.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting invoice for order %q: %w", orderID, err)
	}
	return &inv, nil
}

// ListByCustomer returns the customer's orders without items, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for customer %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus moves the order between statuses as a conditional update:
// the WHERE clause pins the expected current status, so a lost race shows
// up as zero affected rows rather than a silently overwritten transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	col := timestampColumn(to)
	sql := `UPDATE orders SET status = $1`
	args := []any{string(to), id, string(from)}
	if col != "" {
		sql += `, ` + col + ` = $4`
		args = append(args, at)
	}
	sql += ` WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInvalidTransition
	}
	return nil
}

// timestampColumn maps a target status to the column stamping that
// transition. Processing has no dedicated timestamp.
func timestampColumn(to order.Status) string {
	switch to {
	case order.StatusConfirmed:
		return "confirmed_at"
	case order.StatusShipped:
		return "shipped_at"
	case order.StatusDelivered:
		return "delivered_at"
	case order.StatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func freezeErr(op, number string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrapf(numbering.ErrCollision, "%s %q", op, number)
	}
	return fmt.Errorf("%s %q: %w", op, number, err)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.CouponCode,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Shipping, &o.Total,
		&status, &paymentStatus,
		&o.CreatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}
