package app

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/stacklok/notes-collab-server/database"
	"github.com/stacklok/notes-collab-server/internal/app/storage/auth"
	"github.com/stacklok/notes-collab-server/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}
	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the schema up to date.
Connection parameters are read from storage.database in the config file.`,
		RunE: runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert database migrations",
		Long: `Revert database migrations.

Examples:
  # Migrate down by 1 step
  notes-collab-api migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (drops every table)
  notes-collab-api migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	})
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, dbCfg, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	prompt := fmt.Sprintf("About to apply migrations to %s@%s:%d/%s. Continue?",
		dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Database)
	if ok, err := confirm(cmd, prompt); err != nil || !ok {
		return err
	}

	slog.Info("Applying database migrations", "steps", numSteps)
	if numSteps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(int(numSteps))
	}
	if err := database.IgnoreNoChange(err); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	displayMigrationVersion(m)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, _, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	prompt := "WARNING: This will migrate down ALL steps and drop every table. Continue?"
	if numSteps > 0 {
		prompt = fmt.Sprintf("This will migrate down %d step(s). Continue?", numSteps)
	}
	if ok, err := confirm(cmd, prompt); err != nil || !ok {
		return err
	}

	slog.Info("Reverting database migrations", "steps", numSteps)
	if numSteps == 0 {
		err = m.Down()
	} else {
		err = m.Steps(-int(numSteps))
	}
	if err := database.IgnoreNoChange(err); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	displayMigrationVersion(m)
	return nil
}

func setupMigration(cmd *cobra.Command) (database.Migrator, *config.DatabaseConfig, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Database == nil {
		return nil, nil, fmt.Errorf("storage.database configuration is required")
	}

	connString, err := auth.MigrationConnectionString(cmd.Context(), cfg.Storage.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build migration connection string: %w", err)
	}

	m, err := database.NewMigrator(connString)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg.Storage.Database, nil
}

// confirm asks on stdin unless --yes was given.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (yes/no): ", prompt)
	response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && response == "" {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return true, nil
	default:
		slog.Info("Migration cancelled by user")
		return false, nil
	}
}

func displayMigrationVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("No migrations applied")
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations complete", "version", version)
	}
}

func closeMigrator(m database.Migrator) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		slog.Error("Error closing migrator", "error", err)
	}
}
