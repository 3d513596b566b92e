// Package auth resolves short-lived database credentials for the PostgreSQL store.
package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/notes-collab-server/internal/app/storage/auth/aws"
	"github.com/stacklok/notes-collab-server/internal/config"
)

// ResolveAuthToken creates a dynamic authentication token for the given user.
// Returns an empty string if dynamic authentication is not configured.
// The token is used as the password of short-lived connections, such as
// migrations, where a BeforeConnect hook cannot be installed.
func ResolveAuthToken(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}

	if cfg.DynamicAuth == nil {
		return "", nil
	}

	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.NewToken(ctx, cfg, user)
	}

	return "", fmt.Errorf("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
}

// NewDynamicAuth returns a pgx BeforeConnect hook that sets a fresh token
// as the password of every new pool connection.
func NewDynamicAuth(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (func(ctx context.Context, connConfig *pgx.ConnConfig) error, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	if cfg.DynamicAuth == nil {
		return nil, fmt.Errorf("dynamic authentication is not configured")
	}

	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.PgxAuthFunc(ctx, cfg, user)
	}

	return nil, fmt.Errorf("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
}
