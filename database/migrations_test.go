package database_test

import (
	"bytes"
	"io/fs"
	"testing"
	"text/template"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/notes-collab-server/database"
	"github.com/stacklok/notes-collab-server/database/dbtest"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	connStr := dbtest.SetupTestDB(t)

	m, err := database.NewMigrator(connStr)
	require.NoError(t, err)
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)

	fnames, err := fs.Glob(database.MigrationsFS(), "migrations/*.up.sql")
	require.NoError(t, err)
	assert.Equal(t, uint(len(fnames)), version)

	require.NoError(t, m.Down())
	_, _, err = m.Version()
	require.ErrorIs(t, err, migrate.ErrNilVersion)

	require.NoError(t, m.Up())
	require.NoError(t, database.IgnoreNoChange(m.Up()))
}

func TestMigrationsArePaired(t *testing.T) {
	t.Parallel()

	ups, err := fs.Glob(database.MigrationsFS(), "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(database.MigrationsFS(), "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestPrimeTemplate(t *testing.T) {
	t.Parallel()

	tmpl, err := template.New("prime").Parse(string(database.GetPrimeTemplate()))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, struct{ Role, Username, Password string }{database.ReaderRole, "collab", "pw"}))
	assert.Contains(t, buf.String(), "CREATE ROLE notes_collab_reader NOLOGIN")
	assert.Contains(t, buf.String(), "GRANT notes_collab_reader TO collab")
	assert.Contains(t, buf.String(), "WITH PASSWORD 'pw'")
}
