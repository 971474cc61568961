package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/marketd/checkout/internal/domain/cart"
	"github.com/marketd/checkout/internal/domain/pricing"
	"github.com/marketd/checkout/internal/domain/product"
	"github.com/marketd/checkout/internal/numbering"
)

// Service encapsulates checkout and order lifecycle logic.
type Service struct {
	orders   Repository
	carts    cart.Repository
	products product.Repository
	coupons  cart.CouponQuoter
	shipping pricing.ShippingQuoter
	numbers  *numbering.Generator
	taxRate  decimal.Decimal
	now      func() time.Time

	ordersPlaced    metric.Int64Counter
	couponsRedeemed metric.Int64Counter
}

// NewService creates an order Service. The meter registers counters for
// placed orders and redeemed coupons; pass a noop meter in tests.
func NewService(
	orders Repository,
	carts cart.Repository,
	products product.Repository,
	coupons cart.CouponQuoter,
	shipping pricing.ShippingQuoter,
	numbers *numbering.Generator,
	taxRate decimal.Decimal,
	meter metric.Meter,
) (*Service, error) {
	ordersPlaced, err := meter.Int64Counter("checkout.orders_placed")
	if err != nil {
		return nil, errors.Wrap(err, "orders_placed counter")
	}
	couponsRedeemed, err := meter.Int64Counter("checkout.coupons_redeemed")
	if err != nil {
		return nil, errors.Wrap(err, "coupons_redeemed counter")
	}

	return &Service{
		orders:          orders,
		carts:           carts,
		products:        products,
		coupons:         coupons,
		shipping:        shipping,
		numbers:         numbers,
		taxRate:         taxRate,
		now:             time.Now,
		ordersPlaced:    ordersPlaced,
		couponsRedeemed: couponsRedeemed,
	}, nil
}

// WithClock replaces the service's time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Checkout freezes the customer's cart into an immutable order with a
// derived invoice. The pricing pipeline runs exactly once; its output is
// re-verified against the additive identity, assigned order and invoice
// numbers, and persisted together with the coupon redemption in a single
// transaction. On success the cart is cleared.
//
// Number collisions are retried with fresh numbers up to
// numbering.MaxRetries before the error escapes.
func (s *Service) Checkout(ctx context.Context, customerID string) (*Order, error) {
	c, err := s.carts.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, ErrEmptyCart
		}
		return nil, errors.Wrap(err, "get cart")
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	items := c.PricingItems()

	// Re-validate the coupon at freeze time; it may have expired or been
	// exhausted since it was applied to the cart.
	discount := decimal.Zero
	if c.CouponCode != "" {
		applied, err := s.coupons.Quote(ctx, c.CouponCode, customerID, pricing.Subtotal(items))
		if err != nil {
			return nil, err
		}
		discount = applied.Amount
	}

	shippingCost, err := s.shipping.Cost(ctx, items)
	if err != nil {
		return nil, errors.Wrap(err, "quote shipping")
	}

	summary := pricing.Quote(items, discount, s.taxRate, shippingCost)
	if err := pricing.Verify(summary); err != nil {
		return nil, err
	}

	orderItems, err := s.buildItems(ctx, c)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		CouponCode:    c.CouponCode,
		Items:         orderItems,
		Subtotal:      summary.Subtotal,
		Discount:      summary.Discount,
		Tax:           summary.Tax,
		Shipping:      summary.Shipping,
		Total:         summary.Total,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
	}

	for attempt := 0; ; attempt++ {
		o.Number, err = s.numbers.Next(ctx, numbering.PrefixOrder, now)
		if err != nil {
			return nil, err
		}

		inv := &Invoice{
			ID:       uuid.New().String(),
			OrderID:  o.ID,
			Subtotal: summary.Subtotal,
			Discount: summary.Discount,
			Tax:      summary.Tax,
			Shipping: summary.Shipping,
			Total:    summary.Total,
			IssuedAt: now,
		}
		inv.Number, err = s.numbers.Next(ctx, numbering.PrefixInvoice, now)
		if err != nil {
			return nil, err
		}

		err = s.orders.Freeze(ctx, o, inv)
		if err == nil {
			break
		}
		if errors.Is(err, numbering.ErrCollision) && attempt < numbering.MaxRetries {
			continue
		}
		return nil, errors.Wrap(err, "freeze order")
	}

	if err := s.carts.Delete(ctx, customerID); err != nil {
		// The order is already committed; a stale cart is recoverable.
		return o, errors.Wrap(err, "clear cart after checkout")
	}

	s.ordersPlaced.Add(ctx, 1)
	if o.CouponCode != "" {
		s.couponsRedeemed.Add(ctx, 1)
	}

	return o, nil
}

// GetByID returns an order by its identifier.
func (s *Service) GetByID(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// GetInvoice returns the invoice derived from an order.
func (s *Service) GetInvoice(ctx context.Context, orderID string) (*Invoice, error) {
	return s.orders.GetInvoice(ctx, orderID)
}

// ListByCustomer returns the customer's orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.orders.ListByCustomer(ctx, customerID)
}

// UpdateStatus moves an order through the fulfilment state machine. The
// transition check repeats inside the storage layer as a conditional
// update, so concurrent transitions cannot both win.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown status %q", to)
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(to) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, to)
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, to, s.now()); err != nil {
		return nil, err
	}

	return s.orders.GetByID(ctx, id)
}

// buildItems resolves product names for the frozen order lines. Unit
// prices come from the cart, not the catalog: the price at add time is the
// price the customer pays.
func (s *Service) buildItems(ctx context.Context, c *cart.Cart) ([]Item, error) {
	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	names := make(map[string]string, len(fetched))
	for _, p := range fetched {
		names[p.ID] = p.Name
	}

	items := make([]Item, len(c.Items))
	for i, it := range c.Items {
		name, ok := names[it.ProductID]
		if !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", it.ProductID)
		}
		items[i] = Item{
			ProductID: it.ProductID,
			Name:      name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	return items, nil
}
