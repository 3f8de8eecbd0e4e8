// Package http owns the listening server: route registration, startup and
// graceful shutdown. Handler implementations live in internal/server.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/tmplserve/internal/config"
)

// Handlers are the endpoints the router exposes.
type Handlers interface {
	HandleHome(w http.ResponseWriter, r *http.Request)
	HandleName(w http.ResponseWriter, r *http.Request)
	HandleHealth(w http.ResponseWriter, r *http.Request)
	HandleStatic(w http.ResponseWriter, r *http.Request)

	// LiveReload returns the websocket endpoint, or nil when hot reload
	// is off.
	LiveReload() http.Handler
}

// MiddlewareProvider wraps the mux before it is served.
type MiddlewareProvider interface {
	Apply(handler http.Handler) http.Handler
}

// Routes served by the router.
const (
	RouteHome       = "GET /{$}"
	RouteName       = "POST /index/name"
	RouteHealth     = "GET /healthz"
	RouteLiveReload = "GET /_livereload"
	RouteStatic     = "/"
)

// Router handles HTTP server lifecycle and route registration.
//
// httpServer is nil only before Start; isShutdown flips once.
type Router struct {
	config   config.ServerConfig
	mux      *http.ServeMux
	handler  http.Handler
	handlers Handlers

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener
	isShutdown  bool
}

// NewRouter registers every route and applies the middleware chain.
// It panics on nil dependencies.
func NewRouter(cfg config.ServerConfig, handlers Handlers, middlewareProvider MiddlewareProvider) *Router {
	if handlers == nil {
		panic("Router: handlers cannot be nil")
	}
	if middlewareProvider == nil {
		panic("Router: middlewareProvider cannot be nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	router := &Router{
		config:   cfg,
		mux:      http.NewServeMux(),
		handlers: handlers,
	}
	router.registerRoutes()
	router.handler = middlewareProvider.Apply(router.mux)

	return router
}

func (r *Router) registerRoutes() {
	r.mux.HandleFunc(RouteHome, r.handlers.HandleHome)
	r.mux.HandleFunc(RouteName, r.handlers.HandleName)
	r.mux.HandleFunc("/index/name", allowOnly(http.MethodPost))
	r.mux.HandleFunc(RouteHealth, r.handlers.HandleHealth)

	if lr := r.handlers.LiveReload(); lr != nil {
		r.mux.Handle(RouteLiveReload, lr)
	}

	r.mux.HandleFunc(RouteStatic, r.handlers.HandleStatic)
}

// allowOnly answers 405 for a path that only accepts method. Without it
// the static catch-all would swallow the request.
func allowOnly(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Handler returns the fully wrapped handler, mainly for tests.
func (r *Router) Handler() http.Handler {
	return r.handler
}

// Listen binds the configured address without serving yet. Start calls
// it when needed; calling it first lets callers read Addr before serving.
func (r *Router) Listen() error {
	r.serverMutex.Lock()
	defer r.serverMutex.Unlock()

	if r.isShutdown {
		return errors.New("Router.Listen: router has been shut down")
	}
	if r.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", r.config.Addr())
	if err != nil {
		return fmt.Errorf("Router.Listen: unable to bind %s: %w", r.config.Addr(), err)
	}
	r.listener = ln
	r.httpServer = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured shutdown timeout.
func (r *Router) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("Router.Start: context cannot be nil")
	}
	if err := r.Listen(); err != nil {
		return err
	}

	r.serverMutex.RLock()
	server, ln := r.httpServer, r.listener
	r.serverMutex.RUnlock()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("Router: server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
		defer cancel()
		return r.Shutdown(shutdownCtx)

	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Safe to call more than once.
func (r *Router) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("Router.Shutdown: context cannot be nil")
	}

	r.serverMutex.Lock()
	defer r.serverMutex.Unlock()

	if r.isShutdown {
		return nil
	}
	r.isShutdown = true

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("Router.Shutdown: server shutdown failed: %w", err)
		}
	} else if r.listener != nil {
		return r.listener.Close()
	}

	return nil
}

// Addr returns the bound address once listening, else the configured one.
func (r *Router) Addr() string {
	r.serverMutex.RLock()
	defer r.serverMutex.RUnlock()

	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.config.Addr()
}

// IsShutdown reports whether Shutdown has run.
func (r *Router) IsShutdown() bool {
	r.serverMutex.RLock()
	defer r.serverMutex.RUnlock()
	return r.isShutdown
}
