// Package app provides application lifecycle management for the collaboration server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/notes-collab-server/internal/app/storage"
	"github.com/stacklok/notes-collab-server/internal/config"
)

// NotesCollabApp encapsulates all components needed to run the collaboration server
// It provides lifecycle management and graceful shutdown capabilities
type NotesCollabApp struct {
	config         *config.Config
	components     *AppComponents
	storageFactory storage.Factory
	httpServer     *http.Server

	ready     chan struct{}
	readyOnce sync.Once
	addr      net.Addr

	stopOnce sync.Once
	stopErr  error
}

// Start listens on the configured address and serves until Stop is called.
func (app *NotesCollabApp) Start() error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (app *NotesCollabApp) Serve(ln net.Listener) error {
	app.addr = ln.Addr()
	app.readyOnce.Do(func() { close(app.ready) })

	slog.Info("Server listening", "address", ln.Addr().String())
	if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Ready is closed once the server is listening.
func (app *NotesCollabApp) Ready() <-chan struct{} {
	return app.ready
}

// Addr returns the bound address; nil before Ready is closed.
func (app *NotesCollabApp) Addr() net.Addr {
	select {
	case <-app.ready:
		return app.addr
	default:
		return nil
	}
}

// Stop gracefully stops the application within timeout. Open websocket
// connections are closed with a going-away frame while the HTTP server
// drains; auth, storage and telemetry are released afterwards. Calling Stop
// more than once returns the first result.
func (app *NotesCollabApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *NotesCollabApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// http.Server.Shutdown does not track hijacked connections
	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		if err := app.httpServer.Shutdown(gctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := app.components.Websocket.Shutdown(gctx); err != nil {
			return fmt.Errorf("websocket connections did not drain: %w", err)
		}
		return nil
	})
	errs := []error{g.Wait()}

	if err := app.components.Auth.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop key set refresh: %w", err))
	}
	if app.storageFactory != nil {
		app.storageFactory.Cleanup()
	}
	if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("Server shutdown incomplete", "error", err)
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *NotesCollabApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *NotesCollabApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *NotesCollabApp) Components() *AppComponents {
	return app.components
}
