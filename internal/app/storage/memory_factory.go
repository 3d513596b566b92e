package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/store"
)

// MemoryFactory creates an in-memory store, optionally seeded from a file.
type MemoryFactory struct {
	store *store.MemoryStore
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory loads the seed file, if any, up front so a bad file fails startup.
func NewMemoryFactory(cfg *config.Config) (*MemoryFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	seedFile := cfg.Storage.SeedFile
	if seedFile == "" {
		slog.Warn("Memory storage has no seed file, every access check will be denied")
		return &MemoryFactory{store: store.NewMemory()}, nil
	}

	s, err := store.LoadSeedFile(seedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed file: %w", err)
	}
	slog.Info("Creating memory-backed storage factory", "seed_file", seedFile)
	return &MemoryFactory{store: s}, nil
}

// CreateStore returns the shared memory store.
func (f *MemoryFactory) CreateStore(_ context.Context) (store.Store, error) {
	return f.store, nil
}

// Cleanup is a no-op.
func (*MemoryFactory) Cleanup() {
	slog.Debug("Cleaning up memory storage factory (no-op)")
}
