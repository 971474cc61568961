// Package httpmiddleware provides HTTP middleware shared by the API server:
// panic recovery, request IDs, request-scoped logging, CORS, and rate
// limiting. Every middleware has the standard func(http.Handler)
// http.Handler shape, so they compose with chi's Use.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares to h in order: the first middleware is the
// outermost, seeing every request first.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
