package auth

import (
	"context"
	"fmt"

	"github.com/stacklok/notes-collab-server/internal/config"
)

// MigrationConnectionString builds a PostgreSQL connection string suitable for
// running migrations. golang-migrate opens its own connection, so a dynamic
// auth token is resolved once and embedded in the string. Without dynamic
// auth the configured password is used.
func MigrationConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}

	if cfg.DynamicAuth == nil {
		return cfg.GetConnectionString()
	}

	token, err := ResolveAuthToken(ctx, cfg, cfg.User)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token for migration user: %w", err)
	}

	return cfg.BuildConnectionStringWithAuth(cfg.User, token), nil
}
