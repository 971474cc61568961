package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/marketd/checkout/internal/domain/cart"
	"github.com/marketd/checkout/internal/domain/pricing"
)

// GetCart handles GET /cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	preview, err := h.carts.Get(r.Context(), cust)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

// ClearCart handles DELETE /cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), cust); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCartItem handles POST /cart/items.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	var (
		productID string
		quantity  int
	)
	err := decodeBody(r, map[string]func(d *jx.Decoder) error{
		"product_id": func(d *jx.Decoder) (err error) {
			productID, err = d.Str()
			return err
		},
		"quantity": func(d *jx.Decoder) (err error) {
			quantity, err = d.Int()
			return err
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return
	}
	if productID == "" {
		writeError(w, http.StatusBadRequest, "missing_product", "product_id is required")
		return
	}

	preview, err := h.carts.AddItem(r.Context(), cust, productID, quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

// UpdateCartItem handles PUT /cart/items/{productID}.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	var quantity int
	err := decodeBody(r, map[string]func(d *jx.Decoder) error{
		"quantity": func(d *jx.Decoder) (err error) {
			quantity, err = d.Int()
			return err
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return
	}

	preview, err := h.carts.SetQuantity(r.Context(), cust, chi.URLParam(r, "productID"), quantity)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

// RemoveCartItem handles DELETE /cart/items/{productID}.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	preview, err := h.carts.RemoveItem(r.Context(), cust, chi.URLParam(r, "productID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

// ApplyCoupon handles POST /cart/coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	var code string
	err := decodeBody(r, map[string]func(d *jx.Decoder) error{
		"code": func(d *jx.Decoder) (err error) {
			code, err = d.Str()
			return err
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "code is required")
		return
	}

	preview, err := h.carts.ApplyCoupon(r.Context(), cust, code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

// RemoveCoupon handles DELETE /cart/coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	cust, ok := customerID(w, r)
	if !ok {
		return
	}

	preview, err := h.carts.RemoveCoupon(r.Context(), cust)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPreview(w, http.StatusOK, preview)
}

func respondPreview(w http.ResponseWriter, status int, p *cart.Preview) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range p.Cart.Items {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(it.ProductID)
			money(e, "unit_price", it.UnitPrice)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.ObjEnd()
		}
		e.ArrEnd()
		if p.Cart.CouponCode != "" {
			e.FieldStart("coupon_code")
			e.Str(p.Cart.CouponCode)
		}
		encodeSummary(e, p.Summary)
		e.ObjEnd()
	})
}

func encodeSummary(e *jx.Encoder, s pricing.Summary) {
	money(e, "subtotal", s.Subtotal)
	money(e, "discount", s.Discount)
	money(e, "tax", s.Tax)
	money(e, "shipping", s.Shipping)
	money(e, "total", s.Total)
}
