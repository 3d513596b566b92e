// Package api provides the HTTP server for the collaboration service: probes,
// the websocket endpoint and the presence REST API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/notes-collab-server/internal/api/common"
	v1 "github.com/stacklok/notes-collab-server/internal/api/v1"
	"github.com/stacklok/notes-collab-server/internal/auth"
	"github.com/stacklok/notes-collab-server/internal/versions"
)

// DefaultRequestTimeout bounds REST requests. The websocket route is exempt.
const DefaultRequestTimeout = 30 * time.Second

// WebsocketPath is where clients open collaboration connections.
const WebsocketPath = "/ws"

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	readiness      func(context.Context) error
	websocket      http.Handler
	authMiddleware func(http.Handler) http.Handler
	metrics        http.Handler
	resourceMeta   http.Handler
	requestTimeout time.Duration
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithReadinessCheck sets the check behind /readiness.
func WithReadinessCheck(check func(context.Context) error) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = check
	}
}

// WithWebsocket mounts the collaboration websocket handler.
func WithWebsocket(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.websocket = h
	}
}

// WithAuthMiddleware protects the REST API.
func WithAuthMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.authMiddleware = mw
	}
}

// WithMetricsHandler exposes a Prometheus scrape endpoint at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithProtectedResourceMetadata serves RFC 9728 metadata.
func WithProtectedResourceMetadata(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.resourceMeta = h
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.requestTimeout = d
	}
}

// NewServer creates and configures the HTTP router with the given presence service and options
func NewServer(presence v1.PresenceService, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(cfg.readiness))
	r.Get("/version", versionHandler)

	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics)
	}
	if cfg.resourceMeta != nil {
		r.Handle(auth.WellKnownProtectedResourcePath, cfg.resourceMeta)
	}
	if cfg.websocket != nil {
		r.Handle(WebsocketPath, cfg.websocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.requestTimeout))
		if cfg.authMiddleware != nil {
			r.Use(cfg.authMiddleware)
		}
		r.Mount("/", v1.Router(presence))
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// healthHandler handles health check requests
//
// @Summary		Health check
// @Description	Check if the collaboration server is alive
// @Tags			system
// @Produce		json
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// readinessHandler handles readiness check requests
//
// @Summary		Readiness check
// @Description	Check if the note store is reachable
// @Tags			system
// @Produce		json
// @Success		200	{object}	ReadinessResponse
// @Failure		503	{object}	common.ErrorResponse
// @Router			/readiness [get]
func readinessHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				slog.WarnContext(r.Context(), "Readiness check failed", "error", err)
				common.WriteErrorResponse(w, "note store not ready", http.StatusServiceUnavailable)
				return
			}
		}
		common.WriteJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

// versionHandler handles version information requests
//
// @Summary		Version information
// @Description	Get version information about the collaboration server
// @Tags			system
// @Produce		json
// @Success		200	{object}	versions.VersionInfo
// @Router			/version [get]
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
