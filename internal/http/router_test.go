package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tmplserve/internal/config"
)

type stubHandlers struct {
	liveReload http.Handler
}

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, body) }
}

func (s stubHandlers) HandleHome(w http.ResponseWriter, r *http.Request)   { reply("home")(w, r) }
func (s stubHandlers) HandleName(w http.ResponseWriter, r *http.Request)   { reply("name")(w, r) }
func (s stubHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) { reply("health")(w, r) }
func (s stubHandlers) HandleStatic(w http.ResponseWriter, r *http.Request) { reply("static")(w, r) }
func (s stubHandlers) LiveReload() http.Handler                            { return s.liveReload }

type passthrough struct{ applied bool }

func (p *passthrough) Apply(h http.Handler) http.Handler {
	p.applied = true
	return h
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}
}

func TestRoutes(t *testing.T) {
	mw := &passthrough{}
	router := NewRouter(testConfig(), stubHandlers{liveReload: reply("ws")}, mw)
	assert.True(t, mw.applied)

	testCases := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/", http.StatusOK, "home"},
		{http.MethodHead, "/", http.StatusOK, ""},
		{http.MethodPost, "/index/name", http.StatusOK, "name"},
		{http.MethodGet, "/index/name", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/healthz", http.StatusOK, "health"},
		{http.MethodGet, "/_livereload", http.StatusOK, "ws"},
		{http.MethodGet, "/robots.txt", http.StatusOK, "static"},
		{http.MethodPost, "/", http.StatusOK, "static"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestLiveReloadRouteOnlyWhenEnabled(t *testing.T) {
	router := NewRouter(testConfig(), stubHandlers{}, &passthrough{})
	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_livereload", nil))
	assert.Equal(t, "static", rec.Body.String())
}

func TestNewRouterPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewRouter(testConfig(), nil, &passthrough{}) })
	assert.Panics(t, func() { NewRouter(testConfig(), stubHandlers{}, nil) })
}

func TestStartAndShutdown(t *testing.T) {
	router := NewRouter(testConfig(), stubHandlers{}, &passthrough{})
	require.NoError(t, router.Listen())
	addr := router.Addr()
	assert.False(t, strings.HasSuffix(addr, ":0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- router.Start(ctx) }()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "health", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("router did not shut down")
	}
	assert.True(t, router.IsShutdown())
	assert.NoError(t, router.Shutdown(context.Background()))
	assert.Error(t, router.Start(context.Background()))
}

func TestStartFailsOnBusyPort(t *testing.T) {
	first := NewRouter(testConfig(), stubHandlers{}, &passthrough{})
	require.NoError(t, first.Listen())
	defer first.Shutdown(context.Background())

	host, port := splitHostPort(t, first.Addr())
	cfg := testConfig()
	cfg.Host = host
	cfg.Port = port

	second := NewRouter(cfg, stubHandlers{}, &passthrough{})
	assert.Error(t, second.Start(context.Background()))
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	u, err := url.Parse("http://" + addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}
