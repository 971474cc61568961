// Command seed-db loads the product catalog and a starter set of coupons
// into the database. Safe to re-run: everything is upserted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketd/checkout/internal/storage/postgres"
)

type productJSON struct {
	ID         string          `json:"id"`
	MerchantID string          `json:"merchant_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Category   string          `json:"category"`
}

type couponSeed struct {
	code        string
	merchantID  string
	typ         string
	value       decimal.Decimal
	minPurchase decimal.Decimal
	maxDiscount decimal.Decimal
	usageLimit  int
	perCustomer int
	startsAt    time.Time
	endsAt      *time.Time
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (id, merchant_id, name, price, category)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    merchant_id = EXCLUDED.merchant_id,
    name = EXCLUDED.name,
    price = EXCLUDED.price,
    category = EXCLUDED.category`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.MerchantID, p.Name, p.Price, p.Category,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

const upsertCouponSQL = `
INSERT INTO coupons (
    code, merchant_id, discount_type, value, min_purchase, max_discount,
    usage_limit, per_customer_limit, starts_at, ends_at, active
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
ON CONFLICT (code) DO UPDATE SET
    merchant_id = EXCLUDED.merchant_id,
    discount_type = EXCLUDED.discount_type,
    value = EXCLUDED.value,
    min_purchase = EXCLUDED.min_purchase,
    max_discount = EXCLUDED.max_discount,
    usage_limit = EXCLUDED.usage_limit,
    per_customer_limit = EXCLUDED.per_customer_limit,
    starts_at = EXCLUDED.starts_at,
    ends_at = EXCLUDED.ends_at,
    active = EXCLUDED.active`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding starter coupons")

	now := time.Now().UTC()
	yearEnd := time.Date(now.Year(), 12, 31, 23, 59, 59, 0, time.UTC)

	coupons := []couponSeed{
		{
			code:        "WELCOME10",
			merchantID:  "marketd",
			typ:         "percentage",
			value:       decimal.NewFromInt(10),
			perCustomer: 1,
			startsAt:    now,
		},
		{
			code:        "SAVE20",
			merchantID:  "marketd",
			typ:         "percentage",
			value:       decimal.NewFromInt(20),
			minPurchase: decimal.NewFromInt(100),
			maxDiscount: decimal.NewFromInt(30),
			startsAt:    now,
			endsAt:      &yearEnd,
		},
		{
			code:        "FLAT5",
			merchantID:  "marketd",
			typ:         "fixed",
			value:       decimal.NewFromInt(5),
			minPurchase: decimal.NewFromInt(25),
			usageLimit:  1000,
			startsAt:    now,
		},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.code, c.merchantID, c.typ, c.value, c.minPurchase, c.maxDiscount,
			c.usageLimit, c.perCustomer, c.startsAt, c.endsAt,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}

	return nil
}
