package app

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	collabapp "github.com/stacklok/notes-collab-server/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		Long: `Start the collaboration server.

The configuration file selects the token verifiers (hmac, oidc or multi),
the note store (memory with a seed file, or PostgreSQL) and the websocket
limits. See the examples/ directory for sample configurations.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	cmd.Flags().Duration("graceful-timeout", defaultGracefulTimeout, "Time allowed for connections to drain on shutdown")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"path", path,
		"auth_mode", cfg.Auth.Mode,
		"storage", cfg.Storage.GetType(),
	)

	opts := []collabapp.NotesCollabAppOptions{collabapp.WithConfig(cfg)}
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	if address != "" {
		opts = append(opts, collabapp.WithAddress(address))
	}
	timeout, err := cmd.Flags().GetDuration("graceful-timeout")
	if err != nil {
		return fmt.Errorf("failed to get graceful-timeout flag: %w", err)
	}

	server, err := collabapp.NewNotesCollabApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		_ = server.Stop(timeout)
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	if err := server.Stop(timeout); err != nil {
		return err
	}
	return <-errCh
}
