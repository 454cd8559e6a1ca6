package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/lock"
	"github.com/equiplease/quote-api/internal/quote"
)

// PGStore persists quotes in Postgres. The full aggregate is stored as a JSON
// payload next to the columns that participate in conflict detection and
// filtering. Saves are optionally fenced by a Redis advisory lock so two
// service instances never interleave a read-modify-write on the same quote.
type PGStore struct {
	Pool       *pgxpool.Pool
	Advisory   lock.Advisory
	StaleAfter time.Duration
	Logger     zerolog.Logger
}

func (s *PGStore) staleAfter() time.Duration {
	if s.StaleAfter > 0 {
		return s.StaleAfter
	}
	return lock.DefaultStaleAfter
}

// Load implements Store. A corrupt payload does not fail the load: the quote
// is rebuilt from its columns with a default empty fleet.
func (s *PGStore) Load(ctx context.Context, id uuid.UUID) (*quote.Quote, error) {
	const q = `SELECT payload, reference, status, owner_id, approver_id, version,
		locked_by, locked_at, last_modified, created_at
		FROM quotes WHERE id = $1`

	var (
		payload      []byte
		reference    string
		status       string
		ownerID      string
		approverID   string
		version      int64
		lockedBy     string
		lockedAt     *time.Time
		lastModified time.Time
		createdAt    time.Time
	)
	err := s.Pool.QueryRow(ctx, q, id).Scan(&payload, &reference, &status, &ownerID,
		&approverID, &version, &lockedBy, &lockedAt, &lastModified, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load quote: %w", err)
	}

	var loaded quote.Quote
	if err := json.Unmarshal(payload, &loaded); err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", id.String()).Msg("corrupt quote payload, substituting defaults")
		loaded = quote.Quote{Slots: quote.EmptySlots()}
	}
	// Columns win over whatever the payload claims.
	loaded.ID = id
	loaded.Reference = reference
	loaded.Status = quote.Status(status)
	loaded.OwnerID = ownerID
	loaded.ApproverID = approverID
	loaded.Version = version
	loaded.LockedBy = lockedBy
	if lockedAt != nil {
		loaded.LockedAt = *lockedAt
	} else {
		loaded.LockedAt = time.Time{}
	}
	loaded.LastModified = lastModified
	loaded.CreatedAt = createdAt
	loaded.NormalizeSlots()
	return &loaded, nil
}

// Save implements Store.
func (s *PGStore) Save(ctx context.Context, q *quote.Quote, expectedVersion int64, actorID string) (int64, error) {
	var newVersion int64
	err := s.Advisory.WithLock(ctx, "quote:save:"+q.ID.String(), func(ctx context.Context) error {
		var err error
		newVersion, err = s.save(ctx, q, expectedVersion, actorID)
		return err
	})
	return newVersion, err
}

func (s *PGStore) save(ctx context.Context, q *quote.Quote, expectedVersion int64, actorID string) (int64, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return 0, fmt.Errorf("store: encode quote: %w", err)
	}

	if expectedVersion == 0 {
		const ins = `INSERT INTO quotes
			(id, payload, reference, status, owner_id, approver_id, version,
			 locked_by, locked_at, last_modified, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
			RETURNING version`
		var version int64
		err := s.Pool.QueryRow(ctx, ins, q.ID, payload, q.Reference, string(q.Status),
			q.OwnerID, q.ApproverID, q.LockedBy, nullableTime(q.LockedAt),
			q.LastModified, q.CreatedAt).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("store: insert quote: %w", err)
		}
		return version, nil
	}

	const upd = `UPDATE quotes SET
			payload = $2, reference = $3, status = $4, owner_id = $5, approver_id = $6,
			version = version + 1, locked_by = $7, locked_at = $8, last_modified = $9
		WHERE id = $1 AND version = $10
		  AND (locked_by = '' OR locked_by = $11 OR locked_at < now() - $12::interval)
		RETURNING version`
	staleInterval := fmt.Sprintf("%d seconds", int(s.staleAfter().Seconds()))
	var version int64
	err = s.Pool.QueryRow(ctx, upd, q.ID, payload, q.Reference, string(q.Status),
		q.OwnerID, q.ApproverID, q.LockedBy, nullableTime(q.LockedAt),
		q.LastModified, expectedVersion, actorID, staleInterval).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("store: update quote: %w", err)
	}
	return 0, s.classifyConflict(ctx, q.ID, expectedVersion, actorID)
}

// classifyConflict distinguishes why the guarded UPDATE matched no row.
func (s *PGStore) classifyConflict(ctx context.Context, id uuid.UUID, expectedVersion int64, actorID string) error {
	const q = `SELECT version, locked_by, locked_at FROM quotes WHERE id = $1`
	var (
		version  int64
		lockedBy string
		lockedAt *time.Time
	)
	err := s.Pool.QueryRow(ctx, q, id).Scan(&version, &lockedBy, &lockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: classify save conflict: %w", err)
	}
	if lockedBy != "" && lockedBy != actorID && lockedAt != nil &&
		time.Since(*lockedAt) <= s.staleAfter() {
		return ErrLockConflict
	}
	if version != expectedVersion {
		return ErrVersionConflict
	}
	return ErrVersionConflict
}

// ListByFilter implements Store.
func (s *PGStore) ListByFilter(ctx context.Context, f Filter) ([]*quote.Quote, error) {
	q := `SELECT id FROM quotes WHERE ($1 = '' OR status = $1) AND ($2 = '' OR owner_id = $2)
		ORDER BY created_at DESC`
	args := []any{string(f.Status), f.OwnerID}
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, f.Offset)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list quotes: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan quote id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list quotes: %w", err)
	}

	out := make([]*quote.Quote, 0, len(ids))
	for _, id := range ids {
		loaded, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, loaded)
	}
	return out, nil
}

// NextReferenceNumber implements Store via a dedicated sequence.
func (s *PGStore) NextReferenceNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.Pool.QueryRow(ctx, `SELECT nextval('quote_reference_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: next reference number: %w", err)
	}
	return n, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
