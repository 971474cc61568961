package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/marketd/checkout/internal/domain/order"
)

// Checkout handles POST /checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	o, err := h.orders.Checkout(r.Context(), cust)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByCustomer(r.Context(), cust)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

// GetOrder handles GET /orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// GetInvoice handles GET /orders/{orderID}/invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.orders.GetInvoice(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("invoice_number")
		e.Str(inv.Number)
		e.FieldStart("order_id")
		e.Str(inv.OrderID)
		money(e, "subtotal", inv.Subtotal)
		money(e, "discount", inv.Discount)
		money(e, "tax", inv.Tax)
		money(e, "shipping", inv.Shipping)
		money(e, "total", inv.Total)
		e.FieldStart("issued_at")
		e.Str(inv.IssuedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	})
}

// UpdateOrderStatus handles POST /orders/{orderID}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	err := decodeBody(r, map[string]func(d *jx.Decoder) error{
		"status": func(d *jx.Decoder) (err error) {
			status, err = d.Str()
			return err
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return
	}
	if status == "" {
		writeError(w, http.StatusBadRequest, "missing_status", "status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), order.Status(status))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_status")
	e.Str(string(o.PaymentStatus))
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		money(e, "unit_price", it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeSummary(e, o.Summary())
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	encodeTimestamp(e, "confirmed_at", o.ConfirmedAt)
	encodeTimestamp(e, "shipped_at", o.ShippedAt)
	encodeTimestamp(e, "delivered_at", o.DeliveredAt)
	encodeTimestamp(e, "cancelled_at", o.CancelledAt)
	e.ObjEnd()
}

func encodeTimestamp(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}
