// Package storage defines the metadata store contract and ships the in-memory
// implementation used by tests and single-process deployments. Durable
// backends live in the repository package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/DropZone/internal/model"
)

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicate reports a share id collision on insert.
	ErrDuplicate = errors.New("duplicate share id")
)

// Store persists one FileRecord per share id, with the batch id as a secondary
// lookup key. Implementations must be safe for concurrent use.
type Store interface {
	// Insert adds a new record and fails with ErrDuplicate if the share id is taken.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// Find returns the record for shareID or ErrNotFound.
	Find(ctx context.Context, shareID string) (*model.FileRecord, error)
	// FindByBatch returns the batch members in upload order. An unknown batch
	// yields an empty slice, not an error.
	FindByBatch(ctx context.Context, batchID string) ([]*model.FileRecord, error)
	CountByBatch(ctx context.Context, batchID string) (int, error)
	// IncrementDownloads bumps the counter and returns the new value.
	IncrementDownloads(ctx context.Context, shareID string) (int64, error)
	// Delete removes the record or returns ErrNotFound.
	Delete(ctx context.Context, shareID string) error
	// ListExpiringBefore returns records whose ExpiresAt is strictly before t.
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*model.FileRecord, error)
	// ListActive returns records whose ExpiresAt is at or after now.
	ListActive(ctx context.Context, now time.Time) ([]*model.FileRecord, error)
	Close() error
}
