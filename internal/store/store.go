package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/equiplease/quote-api/internal/quote"
)

var (
	// ErrNotFound is returned when no quote exists for the requested id.
	ErrNotFound = errors.New("store: quote not found")
	// ErrLockConflict is returned when another user holds a fresh edit lock
	// on the stored record.
	ErrLockConflict = errors.New("store: quote locked by another user")
	// ErrVersionConflict is returned when the stored version no longer
	// matches the version the writer last read.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Filter narrows ListByFilter results. Zero values mean "any".
type Filter struct {
	Status  quote.Status
	OwnerID string
	Limit   int32
	Offset  int32
}

// Store is the persistence boundary for quote records. Save performs an
// optimistic-concurrency write: it succeeds only when expectedVersion matches
// the stored version and no other user holds a fresh lock, and returns the
// new version counter. actorID identifies the writer for the lock check.
type Store interface {
	Load(ctx context.Context, id uuid.UUID) (*quote.Quote, error)
	Save(ctx context.Context, q *quote.Quote, expectedVersion int64, actorID string) (int64, error)
	ListByFilter(ctx context.Context, f Filter) ([]*quote.Quote, error)
	NextReferenceNumber(ctx context.Context) (int64, error)
}
