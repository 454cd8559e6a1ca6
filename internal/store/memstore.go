package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/equiplease/quote-api/internal/lock"
	"github.com/equiplease/quote-api/internal/quote"
)

// MemStore keeps quotes in memory with the same conflict semantics as the
// Postgres store. Used in tests and for local development.
type MemStore struct {
	Locks lock.Coordinator

	mu      sync.Mutex
	quotes  map[uuid.UUID]*quote.Quote
	nextRef int64
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		quotes:  make(map[uuid.UUID]*quote.Quote),
		nextRef: 1000,
	}
}

// Load implements Store. The returned quote is a copy; mutating it does not
// touch the stored record until Save.
func (m *MemStore) Load(_ context.Context, id uuid.UUID) (*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := q.Clone()
	cp.NormalizeSlots()
	return cp, nil
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, q *quote.Quote, expectedVersion int64, actorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.quotes[q.ID]
	if !exists {
		if expectedVersion != 0 {
			return 0, ErrVersionConflict
		}
		cp := q.Clone()
		cp.Version = 1
		m.quotes[q.ID] = cp
		return 1, nil
	}
	held := lock.State{OwnerID: stored.LockedBy, AcquiredAt: stored.LockedAt}
	if m.Locks.HeldByOther(held, actorID) {
		return 0, ErrLockConflict
	}
	if stored.Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	cp := q.Clone()
	cp.Version = stored.Version + 1
	m.quotes[q.ID] = cp
	return cp.Version, nil
}

// ListByFilter implements Store, ordered by creation time descending.
func (m *MemStore) ListByFilter(_ context.Context, f Filter) ([]*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*quote.Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		if f.Status != "" && q.Status != f.Status {
			continue
		}
		if f.OwnerID != "" && q.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if int(f.Offset) >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && int(f.Limit) < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// NextReferenceNumber implements Store.
func (m *MemStore) NextReferenceNumber(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRef++
	return m.nextRef, nil
}
