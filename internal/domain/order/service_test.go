package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/marketd/checkout/internal/domain/cart"
	"github.com/marketd/checkout/internal/domain/coupon"
	"github.com/marketd/checkout/internal/domain/pricing"
	"github.com/marketd/checkout/internal/domain/product"
	"github.com/marketd/checkout/internal/numbering"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// --- Fakes ---

type fakeCartRepo struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func newFakeCartRepo(carts ...*cart.Cart) *fakeCartRepo {
	m := make(map[string]*cart.Cart, len(carts))
	for _, c := range carts {
		m[c.CustomerID] = c
	}
	return &fakeCartRepo{carts: m}
}

func (r *fakeCartRepo) Get(_ context.Context, customerID string) (*cart.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[customerID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (r *fakeCartRepo) Save(_ context.Context, c *cart.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[c.CustomerID] = c
	return nil
}

func (r *fakeCartRepo) Delete(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, customerID)
	return nil
}

type fakeProductRepo struct {
	products map[string]product.Product
}

func (r *fakeProductRepo) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *fakeProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeStore combines order persistence with a shared coupon counter so the
// Freeze transaction semantics (atomic conditional redeem) can be exercised
// concurrently.
type fakeStore struct {
	mu         sync.Mutex
	orders     map[string]*Order
	invoices   map[string]*Invoice
	numbers    map[string]bool
	usageLimit int
	usedCount  int

	failFreezes int // fail this many Freeze calls with ErrCollision
}

func newFakeStore(usageLimit int) *fakeStore {
	return &fakeStore{
		orders:     map[string]*Order{},
		invoices:   map[string]*Invoice{},
		numbers:    map[string]bool{},
		usageLimit: usageLimit,
	}
}

func (s *fakeStore) Freeze(_ context.Context, o *Order, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFreezes > 0 {
		s.failFreezes--
		return numbering.ErrCollision
	}
	if s.numbers[o.Number] || s.numbers[inv.Number] {
		return numbering.ErrCollision
	}

	if o.CouponCode != "" {
		if s.usageLimit > 0 && s.usedCount >= s.usageLimit {
			return coupon.ErrNotApplicable
		}
		s.usedCount++
	}

	s.numbers[o.Number] = true
	s.numbers[inv.Number] = true
	frozen := *o
	s.orders[o.ID] = &frozen
	s.invoices[o.ID] = inv
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) GetInvoice(_ context.Context, orderID string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (s *fakeStore) ListByCustomer(_ context.Context, customerID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrInvalidTransition
	}
	o.Status = to
	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &at
	case StatusShipped:
		o.ShippedAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	}
	return nil
}

// sharedRule backs a coupon.Repository whose used count tracks the store,
// so quotes observe redemptions.
type sharedCouponRepo struct {
	store *fakeStore
	rule  coupon.Rule
}

func (r *sharedCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	if code != r.rule.Code {
		return nil, coupon.ErrNotFound
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := r.rule
	cp.UsedCount = r.store.usedCount
	return &cp, nil
}

func (r *sharedCouponRepo) Redeem(_ context.Context, _ string) error { return nil }

func (r *sharedCouponRepo) CustomerRedemptions(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

// --- Helpers ---

type seq struct {
	mu   sync.Mutex
	next map[string]int64
}

func (s *seq) Next(_ context.Context, prefix string, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		s.next = map[string]int64{}
	}
	key := prefix + day.UTC().Format("20060102")
	s.next[key]++
	return s.next[key], nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *fakeStore, carts cart.Repository, products product.Repository, quoter cart.CouponQuoter) *Service {
	t.Helper()
	svc, err := NewService(
		store,
		carts,
		products,
		quoter,
		pricing.FlatRate{Fee: d("5")},
		numbering.NewGenerator(&seq{}),
		d("0.10"),
		noop.NewMeterProvider().Meter("test"),
	)
	require.NoError(t, err)
	return svc.WithClock(func() time.Time { return fixedNow })
}

func catalog() *fakeProductRepo {
	return &fakeProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: d("100")},
		"p2": {ID: "p2", Name: "Gadget", Price: d("50")},
	}}
}

func testCart(customerID string, couponCode string) *cart.Cart {
	c := &cart.Cart{ID: "cart-" + customerID, CustomerID: customerID}
	c.Add("p1", d("100"), 2)
	c.Add("p2", d("50"), 1)
	c.ApplyCoupon(couponCode)
	return c
}

// --- Tests ---

func TestCheckout_FreezesOrderAndInvoice(t *testing.T) {
	store := newFakeStore(0)
	carts := newFakeCartRepo(testCart("cust-1", ""))
	svc := newTestService(t, store, carts, catalog(), &sharedCouponRepoQuoter{})

	o, err := svc.Checkout(context.Background(), "cust-1")
	require.NoError(t, err)

	assert.Equal(t, "ORD-20260310-000001", o.Number)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.True(t, d("250").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, d("25").Equal(o.Tax), "tax %s", o.Tax)
	assert.True(t, d("5").Equal(o.Shipping), "shipping %s", o.Shipping)
	assert.True(t, d("280").Equal(o.Total), "total %s", o.Total)
	require.NoError(t, pricing.Verify(o.Summary()))

	inv, err := svc.GetInvoice(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260310-000001", inv.Number)
	assert.True(t, o.Total.Equal(inv.Total))

	// Cart is cleared after checkout.
	_, err = carts.Get(context.Background(), "cust-1")
	require.ErrorIs(t, err, cart.ErrNotFound)
}

// sharedCouponRepoQuoter is a CouponQuoter that always fails lookup; used
// where no coupon is in play.
type sharedCouponRepoQuoter struct{}

func (q *sharedCouponRepoQuoter) Quote(_ context.Context, _, _ string, _ decimal.Decimal) (*coupon.Applied, error) {
	return nil, coupon.ErrNotFound
}

func TestCheckout_EmptyCart(t *testing.T) {
	store := newFakeStore(0)

	empty := &cart.Cart{ID: "c", CustomerID: "cust-2"}
	svc := newTestService(t, store, newFakeCartRepo(empty), catalog(), &sharedCouponRepoQuoter{})

	_, err := svc.Checkout(context.Background(), "cust-2")
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = svc.Checkout(context.Background(), "no-such-customer")
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_AppliesCouponDiscount(t *testing.T) {
	store := newFakeStore(0)
	repo := &sharedCouponRepo{store: store, rule: coupon.Rule{
		Code:     "SAVE10",
		Type:     coupon.DiscountPercentage,
		Value:    d("10"),
		Active:   true,
		StartsAt: fixedNow.Add(-time.Hour),
	}}
	quoter := coupon.NewEngine(repo).WithClock(func() time.Time { return fixedNow })

	svc := newTestService(t, store, newFakeCartRepo(testCart("cust-1", "SAVE10")), catalog(), quoter)

	o, err := svc.Checkout(context.Background(), "cust-1")
	require.NoError(t, err)

	// 250 - 25 discount = 225 taxable; +22.50 tax +5 shipping.
	assert.True(t, d("25").Equal(o.Discount), "discount %s", o.Discount)
	assert.True(t, d("252.50").Equal(o.Total), "total %s", o.Total)
	require.NoError(t, pricing.Verify(o.Summary()))
	assert.Equal(t, 1, store.usedCount)
}

func TestCheckout_RetriesNumberCollision(t *testing.T) {
	store := newFakeStore(0)
	store.failFreezes = 2

	svc := newTestService(t, store, newFakeCartRepo(testCart("cust-1", "")), catalog(), &sharedCouponRepoQuoter{})

	o, err := svc.Checkout(context.Background(), "cust-1")
	require.NoError(t, err)
	// Two collisions consumed ORD numbers 1 and 2.
	assert.Equal(t, "ORD-20260310-000003", o.Number)
}

func TestCheckout_CollisionRetriesExhausted(t *testing.T) {
	store := newFakeStore(0)
	store.failFreezes = numbering.MaxRetries + 1

	svc := newTestService(t, store, newFakeCartRepo(testCart("cust-1", "")), catalog(), &sharedCouponRepoQuoter{})

	_, err := svc.Checkout(context.Background(), "cust-1")
	require.ErrorIs(t, err, numbering.ErrCollision)
}

// With usage_limit = K and N > K concurrent checkouts redeeming the same
// coupon, exactly K orders succeed and the counter ends at K.
func TestCheckout_ConcurrentRedemptions(t *testing.T) {
	const (
		limit     = 5
		attempts  = 20
		codeInUse = "LIMITED"
	)

	store := newFakeStore(limit)
	repo := &sharedCouponRepo{store: store, rule: coupon.Rule{
		Code:       codeInUse,
		Type:       coupon.DiscountFixed,
		Value:      d("10"),
		Active:     true,
		StartsAt:   fixedNow.Add(-time.Hour),
		UsageLimit: limit,
	}}
	quoter := coupon.NewEngine(repo).WithClock(func() time.Time { return fixedNow })

	carts := newFakeCartRepo()
	for i := 0; i < attempts; i++ {
		require.NoError(t, carts.Save(context.Background(),
			testCart(fmt.Sprintf("cust-%d", i), codeInUse)))
	}

	svc := newTestService(t, store, carts, catalog(), quoter)

	var (
		mu        sync.Mutex
		succeeded int
	)
	var eg errgroup.Group
	for i := 0; i < attempts; i++ {
		eg.Go(func() error {
			_, err := svc.Checkout(context.Background(), fmt.Sprintf("cust-%d", i))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return nil
			}
			if errors.Is(err, coupon.ErrNotApplicable) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, limit, succeeded)
	assert.Equal(t, limit, store.usedCount)
}

func TestUpdateStatus(t *testing.T) {
	store := newFakeStore(0)
	svc := newTestService(t, store, newFakeCartRepo(testCart("cust-1", "")), catalog(), &sharedCouponRepoQuoter{})

	o, err := svc.Checkout(context.Background(), "cust-1")
	require.NoError(t, err)

	o, err = svc.UpdateStatus(context.Background(), o.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
	require.NotNil(t, o.ConfirmedAt)
	assert.Equal(t, fixedNow, *o.ConfirmedAt)

	// Jumping ahead is rejected.
	_, err = svc.UpdateStatus(context.Background(), o.ID, StatusDelivered)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Unknown status is rejected.
	_, err = svc.UpdateStatus(context.Background(), o.ID, Status("returned"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Cancel after confirmation is allowed; then it is terminal.
	o, err = svc.UpdateStatus(context.Background(), o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	_, err = svc.UpdateStatus(context.Background(), o.ID, StatusConfirmed)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCheckout_NumericFieldsImmutable(t *testing.T) {
	store := newFakeStore(0)
	svc := newTestService(t, store, newFakeCartRepo(testCart("cust-1", "")), catalog(), &sharedCouponRepoQuoter{})

	o, err := svc.Checkout(context.Background(), "cust-1")
	require.NoError(t, err)
	total := o.Total

	_, err = svc.UpdateStatus(context.Background(), o.ID, StatusConfirmed)
	require.NoError(t, err)

	got, err := svc.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, total.Equal(got.Total))
	require.NoError(t, pricing.Verify(got.Summary()))
}
