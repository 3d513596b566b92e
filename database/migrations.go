// Package database owns the PostgreSQL schema the collaboration server reads:
// embedded migrations and the role priming template.
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ReaderRole is granted read access to the note tables by prime-db.
const ReaderRole = "notes_collab_reader"

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed prime.sql.tmpl
var primeTemplate []byte

// GetPrimeTemplate returns the SQL template that creates the reader role and user.
func GetPrimeTemplate() []byte {
	return primeTemplate
}

// Migrator is the subset of *migrate.Migrate the CLI uses.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// NewMigrator returns a migrator over the embedded migrations for a
// postgres:// or postgresql:// connection string.
func NewMigrator(connString string) (Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, toPgx5URL(connString))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// IgnoreNoChange treats migrate.ErrNoChange as success.
func IgnoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func toPgx5URL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(connString, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return connString
}

// MigrationsFS exposes the embedded migration files.
func MigrationsFS() fs.FS {
	return migrationsFS
}
