// Package dbtest starts a migrated PostgreSQL container for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/stacklok/notes-collab-server/database"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

const (
	testDBName = "notes"
	testDBUser = "testuser"
	testDBPass = "testpass"
)

// SetupTestDB starts a Postgres container, applies every migration and
// returns its connection string. The test is skipped when no container
// provider is available.
func SetupTestDB(t *testing.T) string {
	t.Helper()
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	tc.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := database.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	return connStr
}
