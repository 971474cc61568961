package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/marketd/checkout/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when checkout is attempted on an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidTransition is returned for a status change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the order fulfilment state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the allowed next states for each status. Cancellation
// is only possible before fulfilment starts.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus tracks the payment collaborator's view of the order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Item is a frozen order line.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Order is the immutable snapshot of a checked-out cart. The numeric
// fields never change after creation; only status fields and their
// timestamps do.
type Order struct {
	ID            string
	Number        string
	CustomerID    string
	CouponCode    string
	Items         []Item
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
}

// Invoice is the financial document derived from an order. It carries the
// same additive identity as the order itself.
type Invoice struct {
	ID       string
	Number   string
	OrderID  string
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
	IssuedAt time.Time
}

// Summary returns the order's pricing fields as a pipeline summary, for
// invariant re-verification.
func (o *Order) Summary() pricing.Summary {
	return pricing.Summary{
		Subtotal: o.Subtotal,
		Discount: o.Discount,
		Tax:      o.Tax,
		Shipping: o.Shipping,
		Total:    o.Total,
	}
}

// Repository defines persistence operations for orders and invoices.
type Repository interface {
	// Freeze persists the order, its items, and the invoice in a single
	// transaction. When the order carries a coupon code, the same
	// transaction atomically consumes one coupon use and records the
	// customer redemption; coupon.ErrNotApplicable is returned when the
	// usage limit was exhausted by a concurrent checkout. A duplicate
	// order or invoice number surfaces as numbering.ErrCollision.
	Freeze(ctx context.Context, o *Order, inv *Invoice) error

	GetByID(ctx context.Context, id string) (*Order, error)
	GetInvoice(ctx context.Context, orderID string) (*Invoice, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)

	// UpdateStatus moves the order from one status to another as a
	// conditional update, stamping at as the transition time. It returns
	// ErrInvalidTransition when the stored status no longer matches from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
}
