// Package ws is the websocket transport for the collaboration coordinator.
// Each upgraded connection gets a reader that decodes and dispatches frames
// in arrival order and a writer that drains its outbound queue and keeps the
// connection alive with pings.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/stacklok/notes-collab-server/internal/auth"
	"github.com/stacklok/notes-collab-server/internal/collab"
	"github.com/stacklok/notes-collab-server/internal/config"
)

// Coordinator is the part of collab.Coordinator the transport drives.
type Coordinator interface {
	Authenticate(ctx context.Context, credential string) (collab.Participant, error)
	Attach(ctx context.Context, p collab.Participant, conn collab.Conn) collab.Session
	Dispatch(ctx context.Context, s collab.Session, ev collab.InboundEvent) error
	Disconnect(ctx context.Context, s collab.Session)
	Reject(ctx context.Context, s collab.Session, event string, err error)
}

// Config holds per-connection limits.
type Config struct {
	MaxMessageBytes   int64
	SendBufferSize    int
	MessagesPerSecond float64
	Burst             int
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration

	// AllowedOrigins lists browser origins allowed to connect. Empty means
	// same origin only, "*" allows any.
	AllowedOrigins []string
}

// ConfigFrom builds a Config from the collab and server config sections.
func ConfigFrom(collabCfg *config.CollabConfig, serverCfg *config.ServerConfig) Config {
	cfg := Config{
		MaxMessageBytes:   collabCfg.GetMaxMessageBytes(),
		SendBufferSize:    collabCfg.GetSendBufferSize(),
		MessagesPerSecond: collabCfg.GetMessagesPerSecond(),
		Burst:             collabCfg.GetBurst(),
		PingInterval:      collabCfg.GetPingInterval(),
		PongTimeout:       collabCfg.GetPongTimeout(),
		WriteTimeout:      collabCfg.GetWriteTimeout(),
	}
	if serverCfg != nil {
		cfg.AllowedOrigins = serverCfg.AllowedOrigins
	}
	return cfg
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return ConfigFrom(&config.CollabConfig{}, nil)
}

// Option configures a Handler.
type Option func(*Handler)

// WithConfig sets the connection limits.
func WithConfig(cfg Config) Option {
	return func(h *Handler) {
		h.cfg = cfg
	}
}

// WithUnauthorized sets the responder for failed handshakes, typically
// auth.Middleware.Unauthorized.
func WithUnauthorized(fn func(http.ResponseWriter, *http.Request, error)) Option {
	return func(h *Handler) {
		h.unauthorized = fn
	}
}

// Handler authenticates and upgrades websocket handshakes.
type Handler struct {
	coordinator  Coordinator
	cfg          Config
	unauthorized func(http.ResponseWriter, *http.Request, error)
	upgrader     websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a websocket handler over coordinator.
func NewHandler(coordinator Coordinator, opts ...Option) *Handler {
	h := &Handler{
		coordinator: coordinator,
		cfg:         DefaultConfig(),
		conns:       make(map[string]*Conn),
		unauthorized: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(h.cfg.AllowedOrigins),
	}
	return h
}

// ServeHTTP authenticates the handshake before upgrading, so a bad
// credential is answered with a plain 401 and never becomes a connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	credential, err := auth.CredentialFromRequest(r)
	if err != nil {
		h.unauthorized(w, r, err)
		return
	}
	participant, err := h.coordinator.Authenticate(ctx, credential)
	if err != nil {
		h.unauthorized(w, r, err)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.DebugContext(ctx, "Websocket upgrade failed", "user_id", participant.UserID, "error", err)
		return
	}

	conn := newConn(uuid.NewString(), socket, h.cfg)
	if !h.track(conn) {
		conn.closeWith(websocket.CloseGoingAway)
		conn.writePump()
		return
	}
	defer h.untrack(conn)

	session := h.coordinator.Attach(ctx, participant, conn)
	slog.InfoContext(ctx, "Connection opened",
		"connection_id", conn.ID(),
		"user_id", participant.UserID,
		"remote_addr", r.RemoteAddr,
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump()
	}()

	h.readPump(ctx, conn, session)

	h.coordinator.Disconnect(ctx, session)
	conn.Close()
	<-writerDone

	slog.InfoContext(ctx, "Connection closed",
		"connection_id", conn.ID(),
		"user_id", participant.UserID,
	)
}

// readPump decodes and dispatches frames one at a time until the socket
// fails or closes.
func (h *Handler) readPump(ctx context.Context, conn *Conn, s collab.Session) {
	socket := conn.ws
	socket.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = socket.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.Burst)

	for {
		messageType, frame, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.DebugContext(ctx, "Websocket read failed", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		if !limiter.Allow() {
			slog.DebugContext(ctx, "Frame dropped by rate limit", "connection_id", conn.ID())
			h.coordinator.Reject(ctx, s, "", collab.ErrRateLimited)
			continue
		}
		if messageType != websocket.TextMessage {
			h.coordinator.Reject(ctx, s, "", collab.ErrMalformedEvent)
			continue
		}

		ev, err := collab.DecodeEvent(frame)
		if err != nil {
			slog.DebugContext(ctx, "Malformed frame", "connection_id", conn.ID(), "error", err)
			h.coordinator.Reject(ctx, s, "", err)
			continue
		}
		// Errors have already been reported to the client.
		_ = h.coordinator.Dispatch(ctx, s, ev)
	}
}

// Shutdown closes every open connection with a going-away frame and waits
// for their handlers to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.conns {
		c.closeWith(websocket.CloseGoingAway)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.wg.Done()
}

// originChecker allows requests without an Origin header, which do not come
// from browsers.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return sameOrigin
	}
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
				return true
			}
		}
		return false
	}
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
