// Package websocket pushes live-reload notifications to browsers.
//
// A Manager runs a single hub goroutine that owns the client set. Each
// connection gets a buffered send queue; a client that cannot keep up is
// dropped instead of stalling the broadcast.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/tmplserve/internal/logging"
	"github.com/conneroisu/tmplserve/internal/templates"
)

const (
	sendQueueSize = 16
	writeTimeout  = 5 * time.Second
)

// Manager tracks live-reload connections.
type Manager struct {
	logger logging.Logger

	clients    map[*client]struct{}
	clientsMu  sync.RWMutex
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	originPatterns []string

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithOriginPatterns restricts which Origin headers may connect. The
// default only accepts same-host requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(m *Manager) { m.originPatterns = patterns }
}

// NewManager starts the hub. Call Shutdown to stop it.
func NewManager(logger logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:     logger.WithComponent("livereload"),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 32),
		register:   make(chan *client, 8),
		unregister: make(chan *client, 8),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.runHub()
	return m
}

// Attach subscribes m to every environment swap in store.
func (m *Manager) Attach(store *templates.Store) {
	store.Subscribe(func(env *templates.Environment) {
		m.NotifyReload(env.Generation())
	})
}

// NotifyReload queues a reload frame. It never blocks; when the queue is
// full the notification is dropped since a newer one is already pending.
func (m *Manager) NotifyReload(generation uint64) {
	payload, err := json.Marshal(UpdateMessage{
		Type:       MessageReload,
		Generation: generation,
		Timestamp:  time.Now(),
	})
	if err != nil {
		m.logger.Error(m.ctx, err, "Failed to encode reload message")
		return
	}

	select {
	case m.broadcast <- payload:
	case <-m.ctx.Done():
	default:
		m.logger.Debug(m.ctx, "Reload broadcast queue full, dropping", "generation", generation)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// ServeHTTP upgrades the request and keeps the connection open until the
// client goes away or the manager shuts down.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.ctx.Err() != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  m.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueueSize), addr: r.RemoteAddr}
	hello, _ := json.Marshal(UpdateMessage{Type: MessageHello, Timestamp: time.Now()})
	c.send <- hello

	select {
	case m.register <- c:
	case <-m.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go m.writeLoop(c)
	m.readLoop(c)
}

// Shutdown closes every connection and stops the hub. Safe to call twice.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.cancel()

		m.clientsMu.Lock()
		for c := range m.clients {
			delete(m.clients, c)
			close(c.send)
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		m.clientsMu.Unlock()
	})
}

func (m *Manager) runHub() {
	for {
		select {
		case c := <-m.register:
			total, ok := m.add(c)
			if !ok {
				close(c.send)
				_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				continue
			}
			m.logger.Debug(m.ctx, "Client connected", "remote", c.addr, "clients", total)

		case c := <-m.unregister:
			m.drop(c)

		case payload := <-m.broadcast:
			m.clientsMu.RLock()
			for c := range m.clients {
				select {
				case c.send <- payload:
				default:
					go func(c *client) {
						select {
						case m.unregister <- c:
						case <-m.ctx.Done():
						}
					}(c)
				}
			}
			m.clientsMu.RUnlock()

		case <-m.ctx.Done():
			return
		}
	}
}

// add registers c unless Shutdown has already swept the client set. The
// shutdown check happens under clientsMu so a sweep cannot slip between.
func (m *Manager) add(c *client) (int, bool) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	if m.ctx.Err() != nil {
		return len(m.clients), false
	}
	m.clients[c] = struct{}{}
	return len(m.clients), true
}

func (m *Manager) drop(c *client) {
	m.clientsMu.Lock()
	_, ok := m.clients[c]
	if ok {
		delete(m.clients, c)
		close(c.send)
	}
	total := len(m.clients)
	m.clientsMu.Unlock()

	if ok {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		m.logger.Debug(m.ctx, "Client disconnected", "remote", c.addr, "clients", total)
	}
}

// readLoop discards anything the browser sends and returns once the
// connection fails.
func (m *Manager) readLoop(c *client) {
	defer func() {
		select {
		case m.unregister <- c:
		case <-m.ctx.Done():
		}
	}()
	for {
		if _, _, err := c.conn.Read(m.ctx); err != nil {
			return
		}
	}
}

func (m *Manager) writeLoop(c *client) {
	for payload := range c.send {
		ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			return
		}
	}
}
