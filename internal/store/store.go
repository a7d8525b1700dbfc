// Package store provides job.Repository implementations.
package store

import (
	"context"

	"simgateway/internal/job"
)

// Store is a job repository with a lifetime and a readiness check.
type Store interface {
	job.Repository
	Ready(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)

// Open returns a SQLite store at path, or an in-memory store when path is
// empty.
func Open(ctx context.Context, path string) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return OpenSQLite(ctx, path)
}
