package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketd/checkout/internal/domain/coupon"
	"github.com/marketd/checkout/internal/domain/pricing"
	"github.com/marketd/checkout/internal/domain/product"
)

type memCartRepo struct {
	carts map[string]*Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: map[string]*Cart{}}
}

func (r *memCartRepo) Get(_ context.Context, customerID string) (*Cart, error) {
	c, ok := r.carts[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *memCartRepo) Save(_ context.Context, c *Cart) error {
	r.carts[c.CustomerID] = c
	return nil
}

func (r *memCartRepo) Delete(_ context.Context, customerID string) error {
	delete(r.carts, customerID)
	return nil
}

type stubProductRepo struct {
	byID map[string]product.Product
}

func (r *stubProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (r *stubProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *stubProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubQuoter struct {
	applied *coupon.Applied
	err     error
	calls   int
}

func (q *stubQuoter) Quote(_ context.Context, code, _ string, _ decimal.Decimal) (*coupon.Applied, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	if q.applied != nil {
		return q.applied, nil
	}
	return &coupon.Applied{Code: code, Amount: decimal.Zero}, nil
}

func newTestCartService(quoter CouponQuoter) (*Service, *memCartRepo) {
	carts := newMemCartRepo()
	products := &stubProductRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: d("100")},
		"p2": {ID: "p2", Name: "Gadget", Price: d("50")},
	}}
	svc := NewService(carts, products, quoter,
		pricing.FlatRate{Fee: d("5"), FreeOver: d("300")}, d("0.10"))
	return svc, carts
}

func TestService_AddItem(t *testing.T) {
	svc, _ := newTestCartService(&stubQuoter{})

	p, err := svc.AddItem(context.Background(), "cust-1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, p.Cart.Items, 1)
	assert.True(t, d("200").Equal(p.Summary.Subtotal))
	assert.True(t, d("5").Equal(p.Summary.Shipping))
	assert.True(t, d("225").Equal(p.Summary.Total), "total %s", p.Summary.Total)

	// Adding the same product again merges, not duplicates.
	p, err = svc.AddItem(context.Background(), "cust-1", "p1", 1)
	require.NoError(t, err)
	require.Len(t, p.Cart.Items, 1)
	assert.Equal(t, 3, p.Cart.Items[0].Quantity)

	// Free shipping threshold reached at 300.
	assert.True(t, p.Summary.Shipping.IsZero(), "shipping %s", p.Summary.Shipping)
}

func TestService_AddItem_Validation(t *testing.T) {
	svc, _ := newTestCartService(&stubQuoter{})

	_, err := svc.AddItem(context.Background(), "cust-1", "p1", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddItem(context.Background(), "cust-1", "nope", 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_SetQuantityAndRemove(t *testing.T) {
	svc, _ := newTestCartService(&stubQuoter{})

	_, err := svc.AddItem(context.Background(), "cust-1", "p1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(context.Background(), "cust-1", "p2", 1)
	require.NoError(t, err)

	p, err := svc.SetQuantity(context.Background(), "cust-1", "p1", 1)
	require.NoError(t, err)
	assert.True(t, d("150").Equal(p.Summary.Subtotal))

	p, err = svc.RemoveItem(context.Background(), "cust-1", "p2")
	require.NoError(t, err)
	require.Len(t, p.Cart.Items, 1)

	_, err = svc.SetQuantity(context.Background(), "cust-1", "p2", 4)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_ApplyCoupon(t *testing.T) {
	quoter := &stubQuoter{applied: &coupon.Applied{Code: "SAVE25", Amount: d("25")}}
	svc, _ := newTestCartService(quoter)

	_, err := svc.AddItem(context.Background(), "cust-1", "p1", 1)
	require.NoError(t, err)

	p, err := svc.ApplyCoupon(context.Background(), "cust-1", "SAVE25")
	require.NoError(t, err)
	assert.Equal(t, "SAVE25", p.Cart.CouponCode)
	assert.True(t, d("25").Equal(p.Summary.Discount))
	// 100 - 25 = 75 taxable, 7.50 tax, 5 shipping.
	assert.True(t, d("87.50").Equal(p.Summary.Total), "total %s", p.Summary.Total)
	require.NoError(t, pricing.Verify(p.Summary))

	p, err = svc.RemoveCoupon(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Empty(t, p.Cart.CouponCode)
	assert.True(t, p.Summary.Discount.IsZero())
}

func TestService_ApplyCoupon_Rejected(t *testing.T) {
	quoter := &stubQuoter{err: coupon.ErrBelowMinPurchase}
	svc, carts := newTestCartService(quoter)

	_, err := svc.AddItem(context.Background(), "cust-1", "p2", 1)
	require.NoError(t, err)

	_, err = svc.ApplyCoupon(context.Background(), "cust-1", "BIGSPEND")
	require.ErrorIs(t, err, coupon.ErrBelowMinPurchase)

	// A rejected coupon is never attached.
	c, err := carts.Get(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Empty(t, c.CouponCode)
}

func TestService_Get_NoCart(t *testing.T) {
	svc, _ := newTestCartService(&stubQuoter{})

	_, err := svc.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_PreviewIsIdempotent(t *testing.T) {
	svc, _ := newTestCartService(&stubQuoter{})

	_, err := svc.AddItem(context.Background(), "cust-1", "p1", 2)
	require.NoError(t, err)

	first, err := svc.Get(context.Background(), "cust-1")
	require.NoError(t, err)
	second, err := svc.Get(context.Background(), "cust-1")
	require.NoError(t, err)

	assert.Equal(t, first.Summary.String(), second.Summary.String())
}
