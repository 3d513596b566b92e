package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/internal/api"
	"github.com/stacklok/notes-collab-server/internal/app/storage"
	"github.com/stacklok/notes-collab-server/internal/auth"
	"github.com/stacklok/notes-collab-server/internal/authz"
	"github.com/stacklok/notes-collab-server/internal/collab"
	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/httpclient"
	"github.com/stacklok/notes-collab-server/internal/store"
	"github.com/stacklok/notes-collab-server/internal/telemetry"
	"github.com/stacklok/notes-collab-server/internal/transport/ws"
)

// TracerName is the instrumentation scope of the coordinator, checker and store spans
const TracerName = "github.com/stacklok/notes-collab-server"

// NotesCollabAppOptions is a function that configures the app builder
type NotesCollabAppOptions func(*notesCollabAppConfig) error

// notesCollabAppConfig collects the builder inputs. Overrides exist
// primarily for tests; production fills everything from config.
type notesCollabAppConfig struct {
	config *config.Config

	storageFactory storage.Factory
	verifier       auth.Verifier
	httpClient     httpclient.Client
	meterProvider  metric.MeterProvider

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
}

func baseConfig(opts ...NotesCollabAppOptions) (*notesCollabAppConfig, error) {
	cfg := &notesCollabAppConfig{
		requestTimeout: api.DefaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewNotesCollabApp wires config into a runnable server:
// telemetry, store, access checker, verifier, coordinator, websocket
// transport and the HTTP router.
func NewNotesCollabApp(
	ctx context.Context,
	opts ...NotesCollabAppOptions,
) (*NotesCollabApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = tel.MeterProvider()
	}
	tracer := tel.Tracer(TracerName)

	// Everything built from here on is released on error
	var cleanups []func()
	cleanupNeeded := true
	defer func() {
		if !cleanupNeeded {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		_ = tel.Shutdown(context.Background())
	}()

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config, storage.WithTracer(tracer))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}
	cleanups = append(cleanups, cfg.storageFactory.Cleanup)

	noteStore, err := cfg.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create note store: %w", err)
	}

	checker, err := buildAccessChecker(noteStore, cfg.config.Auth.PolicyFile, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build access checker: %w", err)
	}

	authComponents, err := buildAuthComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth components: %w", err)
	}
	cleanups = append(cleanups, func() { _ = authComponents.Close(context.Background()) })

	collabMetrics, err := telemetry.NewCollabMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaboration metrics: %w", err)
	}

	coordinator := collab.NewCoordinator(
		auth.NewParticipantVerifier(authComponents.Verifier),
		checker,
		collab.NewConnectionRegistry(),
		collab.NewRoomRegistry(),
		collab.WithMetrics(collabMetrics),
		collab.WithTracer(tracer),
	)

	wsHandler := ws.NewHandler(coordinator,
		ws.WithConfig(ws.ConfigFrom(&cfg.config.Collab, &cfg.config.Server)),
		ws.WithUnauthorized(authComponents.Middleware.Unauthorized),
	)

	components := &AppComponents{
		Store:       noteStore,
		Coordinator: coordinator,
		Websocket:   wsHandler,
		Auth:        authComponents,
		Telemetry:   tel,
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false

	return &NotesCollabApp{
		config:         cfg.config,
		components:     components,
		storageFactory: cfg.storageFactory,
		httpServer:     httpServer,
		ready:          make(chan struct{}),
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides server.address
func WithAddress(addr string) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not valid: %w", err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithVerifier bypasses auth.mode and authenticates every credential with v
func WithVerifier(v auth.Verifier) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.verifier = v
		return nil
	}
}

// WithHTTPClient sets the client used for OIDC discovery
func WithHTTPClient(c httpclient.Client) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithMeterProvider overrides the meter provider built from the telemetry section
func WithMeterProvider(mp metric.MeterProvider) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithRequestTimeout bounds REST handlers; the websocket route is not affected
func WithRequestTimeout(d time.Duration) NotesCollabAppOptions {
	return func(cfg *notesCollabAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

func buildAccessChecker(s store.Store, policyFile string, tracer trace.Tracer) (*authz.Checker, error) {
	authorizer, err := authz.NewCedarAuthorizerFromFile(policyFile)
	if err != nil {
		return nil, err
	}
	if policyFile != "" {
		slog.Info("Loaded access policies", "policy_file", policyFile)
	}
	return authz.NewChecker(s, authorizer, authz.WithTracer(tracer)), nil
}

// buildAuthComponents builds the verifier chain from auth.mode, unless a
// verifier was injected.
func buildAuthComponents(ctx context.Context, b *notesCollabAppConfig) (*auth.Components, error) {
	authCfg := &b.config.Auth
	if b.verifier != nil {
		slog.Info("Using injected token verifier")
		return &auth.Components{
			Verifier:   b.verifier,
			Middleware: auth.NewMiddleware(b.verifier, authCfg.GetRealm(), authCfg.ResourceURL),
		}, nil
	}

	slog.Info("Initializing token verifiers", "mode", authCfg.Mode)
	return auth.NewFromConfig(ctx, authCfg, b.httpClient)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *notesCollabAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing go first to capture requests rejected by auth
	metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(c.Telemetry.TracerProvider()),
		metricsMiddleware,
	}, middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithReadinessCheck(c.Store.Ping),
		api.WithWebsocket(c.Websocket),
		api.WithAuthMiddleware(c.Auth.Middleware.Handler),
		api.WithRequestTimeout(b.requestTimeout),
	}
	if h := c.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}
	if c.Auth.Metadata != nil {
		serverOpts = append(serverOpts, api.WithProtectedResourceMetadata(c.Auth.Metadata))
	}

	router := api.NewServer(c.Coordinator, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.config.Server.GetReadTimeout(),
		WriteTimeout: b.config.Server.GetWriteTimeout(),
		IdleTimeout:  b.config.Server.GetIdleTimeout(),
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
