// Package handler exposes the checkout API over HTTP. Handlers validate
// and decode requests, delegate to the domain services, and map domain
// errors to structured JSON responses the storefront can act on.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketd/checkout/internal/domain/cart"
	"github.com/marketd/checkout/internal/domain/order"
	"github.com/marketd/checkout/internal/domain/product"
)

// customerHeader identifies the customer on every cart and order request.
// Session mechanics live in the gateway; by the time a request reaches this
// service the header is trusted.
const customerHeader = "X-Customer-ID"

// Handler implements the HTTP API, delegating business logic to the cart
// and order services.
type Handler struct {
	products product.Repository
	carts    *cart.Service
	orders   *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(products product.Repository, carts *cart.Service, orders *order.Service) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		orders:   orders,
	}
}

// Routes mounts all API endpoints on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddCartItem)
		r.Put("/items/{productID}", h.UpdateCartItem)
		r.Delete("/items/{productID}", h.RemoveCartItem)
		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)
	})

	r.Post("/checkout", h.Checkout)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Get("/{orderID}", h.GetOrder)
		r.Get("/{orderID}/invoice", h.GetInvoice)
		r.Post("/{orderID}/status", h.UpdateOrderStatus)
	})

	return r
}

// customerID extracts the customer identity header, writing a 400 response
// and returning false when it is absent.
func customerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(customerHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_customer", customerHeader+" header required")
		return "", false
	}
	return id, true
}
