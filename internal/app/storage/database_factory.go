package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/notes-collab-server/internal/app/storage/auth"
	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/store"
)

const (
	defaultConnectTimeout = 2 * time.Minute
	maxConnectInterval    = 10 * time.Second
)

// DatabaseFactory creates a PostgreSQL-backed store.
type DatabaseFactory struct {
	config         *config.DatabaseConfig
	pool           *pgxpool.Pool
	tracer         trace.Tracer
	connectTimeout time.Duration
}

var _ Factory = (*DatabaseFactory)(nil)

// DatabaseFactoryOption is a functional option for configuring the DatabaseFactory
type DatabaseFactoryOption func(*DatabaseFactory)

// WithTracer sets the OpenTelemetry tracer for the database store.
// If not set, tracing will be disabled (no-op).
func WithTracer(tracer trace.Tracer) DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.tracer = tracer
	}
}

// WithConnectTimeout bounds how long startup waits for the database.
func WithConnectTimeout(d time.Duration) DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.connectTimeout = d
	}
}

// NewDatabaseFactory creates the connection pool and waits, with exponential
// backoff, until the database answers a ping.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Storage.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	factory := &DatabaseFactory{
		config:         cfg.Storage.Database,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(factory)
	}

	slog.Info("Creating database-backed storage factory",
		"host", factory.config.Host,
		"database", factory.config.Database,
	)

	pool, err := buildDatabaseConnectionPool(ctx, factory.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	if err := waitForDatabase(ctx, pool, factory.connectTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	factory.pool = pool
	return factory, nil
}

// CreateStore creates a database-backed store over the shared pool.
func (d *DatabaseFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating database-backed store")

	opts := []store.Option{
		store.WithConnectionPool(d.pool),
	}
	if d.tracer != nil {
		opts = append(opts, store.WithTracer(d.tracer))
		slog.Debug("Database store tracing enabled")
	}

	return store.NewPostgres(opts...)
}

// Cleanup releases resources held by the database factory.
// This closes the database connection pool and any active connections.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

// buildDatabaseConnectionPool creates a database connection pool with proper configuration.
func buildDatabaseConnectionPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	if lifetime := cfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}

	if cfg.DynamicAuth != nil {
		beforeConnect, err := auth.NewDynamicAuth(ctx, cfg, cfg.User)
		if err != nil {
			return nil, fmt.Errorf("failed to configure dynamic database authentication: %w", err)
		}
		poolConfig.BeforeConnect = beforeConnect
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully")
	return pool, nil
}

// waitForDatabase pings until the database answers or timeout elapses.
func waitForDatabase(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxInterval = maxConnectInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "Database not reachable yet, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("database did not become reachable: %w", err)
	}
	return nil
}
