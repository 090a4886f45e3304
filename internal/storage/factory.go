package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/docgate/internal/config"
)

// New creates a Storage based on cfg.Backend.
//
// Supported backends:
//
//	"mongo"  - MongoDB at cfg.MongoURI (default)
//	"sqlite" - SQLite database at cfg.DatabasePath
//	"memory" - In-memory (ephemeral, for testing)
//
// The returned store records per-operation latency.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Backend {
	case "mongo", "":
		s, err = NewMongoStorage(ctx, cfg.MongoURI, cfg.ConnectTimeout)
	case "sqlite":
		s, err = NewSQLiteStorage(cfg.DatabasePath)
	case "memory":
		s = NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unknown storage backend: %q (supported: mongo, sqlite, memory)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s), nil
}
