package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketd/checkout/internal/domain/cart"
	"github.com/marketd/checkout/internal/domain/coupon"
	"github.com/marketd/checkout/internal/domain/order"
	"github.com/marketd/checkout/internal/domain/pricing"
	"github.com/marketd/checkout/internal/domain/product"
	"github.com/marketd/checkout/internal/numbering"
)

// writeJSON encodes a response body with the given encoder function.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes the structured error body: a machine-readable reason
// plus a human-readable message.
func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("reason")
		e.Str(reason)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// respondError maps domain errors to HTTP responses. Coupon rejections are
// recoverable and carry a distinct reason each, so the storefront can tell
// the customer why the code was refused. Pricing invariant violations are
// bugs: logged loudly, surfaced as a generic retry.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "coupon_not_found", "coupon code does not exist")
	case errors.Is(err, coupon.ErrNotApplicable):
		writeError(w, http.StatusUnprocessableEntity, "coupon_not_applicable", "coupon is not currently applicable")
	case errors.Is(err, coupon.ErrBelowMinPurchase):
		writeError(w, http.StatusUnprocessableEntity, "coupon_below_min_purchase", "cart subtotal is below the coupon minimum")
	case errors.Is(err, coupon.ErrPerCustomerLimit):
		writeError(w, http.StatusUnprocessableEntity, "coupon_customer_limit", "coupon already redeemed the maximum number of times")
	case errors.Is(err, cart.ErrNotFound):
		writeError(w, http.StatusNotFound, "cart_not_found", "cart is empty")
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, "invalid_quantity", "quantity must be greater than 0")
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", "product does not exist")
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusUnprocessableEntity, "empty_cart", "cart has no items to check out")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", "order does not exist")
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "order status transition not allowed")
	case errors.Is(err, pricing.ErrInvariantViolation):
		zctx.From(r.Context()).Error("pricing invariant violation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "please retry")
	case errors.Is(err, numbering.ErrCollision):
		zctx.From(r.Context()).Error("document number retries exhausted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "please retry")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// money encodes a decimal as a JSON number literal, preserving exact
// decimal digits.
func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Raw([]byte(v.StringFixed(2)))
}

// decodeBody parses a small JSON request body into field callbacks.
func decodeBody(r *http.Request, fields map[string]func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return errors.Wrap(err, "read body")
	}

	d := jx.DecodeBytes(body)
	return d.Obj(func(d *jx.Decoder, key string) error {
		if fn, ok := fields[key]; ok {
			return fn(d)
		}
		return d.Skip()
	})
}
