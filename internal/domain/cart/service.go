package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketd/checkout/internal/domain/coupon"
	"github.com/marketd/checkout/internal/domain/pricing"
	"github.com/marketd/checkout/internal/domain/product"
)

// ErrInvalidQuantity is returned when a line quantity is not positive.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// CouponQuoter computes the discount a coupon code yields for a subtotal
// without consuming a use. Satisfied by *coupon.Engine.
type CouponQuoter interface {
	Quote(ctx context.Context, code, customerID string, subtotal decimal.Decimal) (*coupon.Applied, error)
}

// Preview pairs a cart with its freshly computed pricing summary. It is
// recomputed on every read; nothing in it is stored.
type Preview struct {
	Cart    *Cart
	Summary pricing.Summary
}

// Service implements cart operations: line mutation with the merge-on-add
// invariant, coupon application, and priced previews. Every preview and the
// eventual checkout run the identical pricing pipeline.
type Service struct {
	carts    Repository
	products product.Repository
	coupons  CouponQuoter
	shipping pricing.ShippingQuoter
	taxRate  decimal.Decimal
}

// NewService creates a cart Service.
func NewService(
	carts Repository,
	products product.Repository,
	coupons CouponQuoter,
	shipping pricing.ShippingQuoter,
	taxRate decimal.Decimal,
) *Service {
	return &Service{
		carts:    carts,
		products: products,
		coupons:  coupons,
		shipping: shipping,
		taxRate:  taxRate,
	}
}

// AddItem adds the product to the customer's cart, creating the cart on
// first use. The product's current catalog price is captured on the line.
func (s *Service) AddItem(ctx context.Context, customerID, productID string, quantity int) (*Preview, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}

	c, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	c.Add(p.ID, p.Price, quantity)
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}

	return s.preview(ctx, c)
}

// SetQuantity updates a line's quantity; zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, customerID, productID string, quantity int) (*Preview, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if !c.SetQuantity(productID, quantity) {
		return nil, errors.Wrapf(product.ErrNotFound, "product %s not in cart", productID)
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}

	return s.preview(ctx, c)
}

// RemoveItem deletes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, customerID, productID string) (*Preview, error) {
	return s.SetQuantity(ctx, customerID, productID, 0)
}

// ApplyCoupon validates the code against the current subtotal and attaches
// it to the cart, replacing any previously applied coupon. The coupon's
// usage counter is not consumed until checkout.
func (s *Service) ApplyCoupon(ctx context.Context, customerID, code string) (*Preview, error) {
	c, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	subtotal := pricing.Subtotal(c.PricingItems())
	if _, err := s.coupons.Quote(ctx, code, customerID, subtotal); err != nil {
		return nil, err
	}

	c.ApplyCoupon(code)
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}

	return s.preview(ctx, c)
}

// RemoveCoupon detaches the applied coupon from the cart.
func (s *Service) RemoveCoupon(ctx context.Context, customerID string) (*Preview, error) {
	c, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	c.RemoveCoupon()
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}

	return s.preview(ctx, c)
}

// Get returns the customer's cart with a fresh pricing summary.
func (s *Service) Get(ctx context.Context, customerID string) (*Preview, error) {
	c, err := s.carts.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.preview(ctx, c)
}

// Clear empties and deletes the customer's cart.
func (s *Service) Clear(ctx context.Context, customerID string) error {
	return s.carts.Delete(ctx, customerID)
}

func (s *Service) getOrCreate(ctx context.Context, customerID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, customerID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart")
	}
	return &Cart{
		ID:         uuid.New().String(),
		CustomerID: customerID,
	}, nil
}

// preview runs the pricing pipeline over the cart's current state. A coupon
// that has become invalid since it was applied surfaces as an error here so
// the storefront can tell the customer why, rather than silently changing
// the total.
func (s *Service) preview(ctx context.Context, c *Cart) (*Preview, error) {
	items := c.PricingItems()

	discount := decimal.Zero
	if c.CouponCode != "" && !c.Empty() {
		applied, err := s.coupons.Quote(ctx, c.CouponCode, c.CustomerID, pricing.Subtotal(items))
		if err != nil {
			return nil, err
		}
		discount = applied.Amount
	}

	shipping := decimal.Zero
	if !c.Empty() {
		cost, err := s.shipping.Cost(ctx, items)
		if err != nil {
			return nil, errors.Wrap(err, "quote shipping")
		}
		shipping = cost
	}

	return &Preview{
		Cart:    c,
		Summary: pricing.Quote(items, discount, s.taxRate, shipping),
	}, nil
}
