package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stacklok/notes-collab-server/database"
)

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func newPrimeDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prime-db [username]",
		Short: "Prime the database with the reader role and a login user",
		Long: `Prime the database by creating the role and user the server connects as.

This command:
- Creates the role '` + database.ReaderRole + `' if it doesn't exist
- Creates a user (specified as positional argument) if it doesn't exist
- Grants the role read access to the note tables and to the user
- Reads the user's password from STDIN

It connects with the storage.database settings of --config.`,
		Args: cobra.ExactArgs(1),
		RunE: runPrimeDB,
	}
	cmd.Flags().Bool("dry-run", false, "Print the SQL that would be executed to standard output")
	return cmd
}

func runPrimeDB(cmd *cobra.Command, args []string) error {
	username := args[0]
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("invalid username %q: use lowercase letters, digits and underscores", username)
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}

	reader := cmd.InOrStdin()
	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		reader, err = readerFromTerminal(f)
		if err != nil {
			return err
		}
	}

	passwordBytes, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := sanitizePassword(string(passwordBytes))
	if password == "" {
		return errors.New("password cannot be empty")
	}

	primeSQL, err := executePrimeTemplate(username, password)
	if err != nil {
		return err
	}

	if dryRun {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), primeSQL)
		return err
	}

	return executePrimeSQL(cmd, primeSQL)
}

func executePrimeSQL(cmd *cobra.Command, primeSQL string) error {
	ctx := cmd.Context()

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Database == nil {
		return fmt.Errorf("storage.database configuration is required")
	}

	connString, err := cfg.Storage.Database.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("Failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, primeSQL); err != nil {
		return fmt.Errorf("failed to prime database: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("Database primed successfully", "role", database.ReaderRole)
	return nil
}

// executePrimeTemplate renders the prime.sql.tmpl template
func executePrimeTemplate(username, password string) (string, error) {
	tmpl, err := template.New("prime").Parse(string(database.GetPrimeTemplate()))
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := struct {
		Role     string
		Username string
		Password string
	}{
		Role:     database.ReaderRole,
		Username: username,
		Password: password,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func readerFromTerminal(f *os.File) (io.Reader, error) {
	passwordBytes, err := term.ReadPassword(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(passwordBytes) == 0 {
		return nil, fmt.Errorf("password cannot be empty")
	}
	return bytes.NewReader(passwordBytes), nil
}

func sanitizePassword(password string) string {
	password = strings.TrimSpace(password)
	return strings.ReplaceAll(password, "'", "''")
}
