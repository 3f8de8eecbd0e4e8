// Package middleware composes the HTTP middleware stack wrapped around the
// router: request logging, panic recovery and response security headers.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/conneroisu/tmplserve/internal/logging"
)

// Middleware represents a single middleware function
type Middleware func(http.Handler) http.Handler

// MiddlewareChain manages an ordered list of middlewares.
//
// The first middleware added is the outermost wrapper: a request flows
// through the chain in insertion order and the response unwinds in
// reverse.
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain creates a chain holding the given middlewares.
func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	mc := &MiddlewareChain{middlewares: make([]Middleware, 0, len(middlewares)+4)}
	for _, m := range middlewares {
		mc.AddMiddleware(m)
	}
	return mc
}

// NewDefaultChain builds the standard stack: request logging outermost,
// then panic recovery, then security headers.
func NewDefaultChain(logger logging.Logger) *MiddlewareChain {
	return NewMiddlewareChain(
		RequestLogging(logger),
		Recovery(logger),
		SecurityHeaders(),
	)
}

// AddMiddleware appends a middleware to the chain
func (mc *MiddlewareChain) AddMiddleware(middleware Middleware) {
	if middleware == nil {
		panic("MiddlewareChain.AddMiddleware: middleware cannot be nil")
	}
	mc.middlewares = append(mc.middlewares, middleware)
}

// Len returns the number of middlewares in the chain
func (mc *MiddlewareChain) Len() int {
	return len(mc.middlewares)
}

// Apply wraps handler with every middleware in the chain.
func (mc *MiddlewareChain) Apply(handler http.Handler) http.Handler {
	if handler == nil {
		panic("MiddlewareChain.Apply: handler cannot be nil")
	}

	wrappedHandler := handler
	for i := len(mc.middlewares) - 1; i >= 0; i-- {
		wrappedHandler = mc.middlewares[i](wrappedHandler)
		if wrappedHandler == nil {
			panic(fmt.Sprintf("MiddlewareChain.Apply: middleware at index %d returned nil handler", i))
		}
	}

	return wrappedHandler
}

// RequestLogging logs one info line per request once the response is done.
func RequestLogging(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.Status(),
				"bytes", rec.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// Recovery converts a panic in a handler into a bare 500.
func Recovery(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newResponseRecorder(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error(r.Context(), fmt.Errorf("panic: %v", p), "Handler panicked",
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				if !rec.WroteHeader() {
					rec.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// SecurityHeaders sets conservative response headers.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}
