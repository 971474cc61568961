package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketd/checkout/internal/domain/cart"
)

const (
	getCartSQL = `SELECT id, customer_id, coupon_code, updated_at
		FROM carts WHERE customer_id = $1`

	getCartItemsSQL = `SELECT product_id, unit_price, quantity
		FROM cart_items WHERE cart_id = $1 ORDER BY position`

	upsertCartSQL = `INSERT INTO carts (id, customer_id, coupon_code, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (customer_id) DO UPDATE
		SET coupon_code = EXCLUDED.coupon_code, updated_at = now()`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, unit_price, quantity, position)
		VALUES ($1, $2, $3, $4, $5)`

	deleteCartSQL = `DELETE FROM carts WHERE customer_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the customer's cart with its items in insertion order.
func (r *CartRepository) Get(ctx context.Context, customerID string) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getCartSQL, customerID).
		Scan(&c.ID, &c.CustomerID, &c.CouponCode, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart for customer %q: %w", customerID, err)
	}

	rows, err := r.pool.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items for cart %q: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.UnitPrice, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items for cart %q: %w", c.ID, err)
	}

	return &c, nil
}

// Save upserts the cart row and rewrites its items in one transaction.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cart save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, upsertCartSQL, c.ID, c.CustomerID, c.CouponCode); err != nil {
		return fmt.Errorf("upserting cart %q: %w", c.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteCartItemsSQL, c.ID); err != nil {
		return fmt.Errorf("clearing items for cart %q: %w", c.ID, err)
	}
	for i, it := range c.Items {
		if _, err := tx.Exec(ctx, insertCartItemSQL,
			c.ID, it.ProductID, it.UnitPrice, it.Quantity, i); err != nil {
			return fmt.Errorf("inserting item %q for cart %q: %w", it.ProductID, c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing cart save: %w", err)
	}
	return nil
}

// Delete removes the customer's cart; items cascade.
func (r *CartRepository) Delete(ctx context.Context, customerID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, customerID); err != nil {
		return fmt.Errorf("deleting cart for customer %q: %w", customerID, err)
	}
	return nil
}
