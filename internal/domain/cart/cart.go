package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketd/checkout/internal/domain/pricing"
)

// ErrNotFound is returned when a customer has no cart.
var ErrNotFound = errors.New("cart not found")

// Item is a cart line. UnitPrice is the product price captured when the
// item was first added; later catalog price changes do not affect it.
type Item struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Cart is the mutable pre-checkout aggregate. Totals are never stored on
// it; they are recomputed from the items on every preview.
type Cart struct {
	ID         string
	CustomerID string
	Items      []Item
	CouponCode string
	UpdatedAt  time.Time
}

// Add inserts a line for the product or, when the product is already
// present, increments the existing line's quantity instead of duplicating
// it.
func (c *Cart) Add(productID string, unitPrice decimal.Decimal, quantity int) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return
		}
	}
	c.Items = append(c.Items, Item{
		ProductID: productID,
		UnitPrice: unitPrice,
		Quantity:  quantity,
	})
}

// SetQuantity sets the line quantity for a product. Quantities of zero or
// less remove the line. It reports whether the product was present.
func (c *Cart) SetQuantity(productID string, quantity int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = quantity
		}
		return true
	}
	return false
}

// Remove deletes the line for a product. It reports whether the product
// was present.
func (c *Cart) Remove(productID string) bool {
	return c.SetQuantity(productID, 0)
}

// ApplyCoupon attaches a coupon code, replacing any previous one. Coupons
// never stack.
func (c *Cart) ApplyCoupon(code string) {
	c.CouponCode = code
}

// RemoveCoupon detaches the applied coupon, if any.
func (c *Cart) RemoveCoupon() {
	c.CouponCode = ""
}

// Clear empties the cart wholesale, dropping items and coupon alike.
func (c *Cart) Clear() {
	c.Items = nil
	c.CouponCode = ""
}

// Empty reports whether the cart has no items.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// PricingItems converts cart lines into pricing pipeline input.
func (c *Cart) PricingItems() []pricing.Item {
	items := make([]pricing.Item, len(c.Items))
	for i, it := range c.Items {
		items[i] = pricing.Item{
			ProductID: it.ProductID,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}
	return items
}

// Repository defines persistence operations for carts.
type Repository interface {
	// Get returns the customer's cart, or ErrNotFound.
	Get(ctx context.Context, customerID string) (*Cart, error)
	// Save upserts the cart and its items.
	Save(ctx context.Context, c *Cart) error
	// Delete removes the customer's cart entirely.
	Delete(ctx context.Context, customerID string) error
}
