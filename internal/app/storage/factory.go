// Package storage creates the note store selected by configuration and owns
// its lifecycle.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the note store and releases its resources.
type Factory interface {
	// CreateStore returns the configured store. Every call returns a store
	// backed by the same resources.
	CreateStore(ctx context.Context) (store.Store, error)

	// Cleanup releases any resources held by this factory.
	// For database factories, this closes the connection pool.
	// For memory factories, this is a no-op.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Storage.GetType() {
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg, opts...)
	case config.StorageTypeMemory:
		return NewMemoryFactory(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.GetType())
	}
}
