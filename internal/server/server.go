// Package server implements the HTTP endpoints: the rendered home page,
// the name fragment, a health probe, optional live reload and the static
// content fallback.
package server

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/conneroisu/tmplserve/internal/config"
	apperrors "github.com/conneroisu/tmplserve/internal/errors"
	"github.com/conneroisu/tmplserve/internal/logging"
	"github.com/conneroisu/tmplserve/internal/sanitize"
	"github.com/conneroisu/tmplserve/internal/templates"
	"github.com/conneroisu/tmplserve/internal/websocket"
)

// Template names rendered by the handlers.
const (
	HomeTemplate = "index.html"
	NameTemplate = "name.html"
)

// gzipMinSize keeps tiny responses uncompressed.
const gzipMinSize = 512

// Server holds the dependencies shared by every handler. It is safe for
// concurrent use.
type Server struct {
	store      *templates.Store
	sanitizer  *sanitize.Sanitizer
	logger     logging.Logger
	errHandler *apperrors.ErrorHandler
	liveReload *websocket.Manager
	static     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the handler logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.WithComponent("server")
		}
	}
}

// WithLiveReload exposes m on the live reload route.
func WithLiveReload(m *websocket.Manager) Option {
	return func(s *Server) { s.liveReload = m }
}

// New wires the handlers to store and sanitizer and prepares static
// serving from content.
func New(content config.ContentConfig, store *templates.Store, sanitizer *sanitize.Sanitizer, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, apperrors.NewEnvironmentError(apperrors.ErrCodeNoEnvironment, "server requires a template store", nil)
	}
	if sanitizer == nil {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "server requires a sanitizer")
	}

	s := &Server{
		store:     store,
		sanitizer: sanitizer,
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errHandler = apperrors.NewErrorHandler(s.logger)

	static, err := newStaticHandler(content, s.logger)
	if err != nil {
		return nil, err
	}

	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		return nil, fmt.Errorf("unable to build gzip wrapper: %w", err)
	}
	s.static = gz(static)

	return s, nil
}

// LiveReload returns the websocket endpoint, or nil when disabled.
func (s *Server) LiveReload() http.Handler {
	if s.liveReload == nil {
		return nil
	}
	return s.liveReload
}

// HandleStatic serves files from the content root.
func (s *Server) HandleStatic(w http.ResponseWriter, r *http.Request) {
	s.static.ServeHTTP(w, r)
}
