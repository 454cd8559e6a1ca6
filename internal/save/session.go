package save

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/quote"
	"github.com/equiplease/quote-api/internal/store"
)

// ErrSaveInFlight is returned by Flush when a save for the active quote is
// already running. Scheduled saves hitting this are dropped silently, never
// queued.
var ErrSaveInFlight = errors.New("save: save already in flight")

// Hooks receive the outcome of save attempts. A nil hook is skipped. Hooks
// run on the dispatching goroutine.
type Hooks struct {
	OnSaved func(q *quote.Quote, newVersion int64)
	// OnLockConflict fires when the store reports another user's lock. The
	// session stays dirty for a user-directed retry.
	OnLockConflict func(q *quote.Quote)
	// OnVersionConflict fires with the freshly loaded latest record; the
	// caller decides whether to Replace the session state with it.
	OnVersionConflict func(latest *quote.Quote)
	OnError           func(err error)
}

// Session tracks one user's editing session: the active quote, its dirty
// state, and debounced persistence under optimistic version control. All
// methods are safe for concurrent use.
type Session struct {
	UserID   string
	Store    store.Store
	Sched    *Scheduler
	Debounce time.Duration
	Logger   zerolog.Logger
	Hooks    Hooks
	Now      func() time.Time

	mu        sync.Mutex
	active    *quote.Quote
	lastSaved time.Time
	inFlight  bool
}

// NewSession constructs a session for one user.
func NewSession(userID string, st store.Store, sched *Scheduler, debounce time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		UserID:   userID,
		Store:    st,
		Sched:    sched,
		Debounce: debounce,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Activate switches the session to a new quote. Any pending debounce timer
// for the previous quote is cancelled; an in-flight save for it will be
// discarded at completion because the captured identity no longer matches.
func (s *Session) Activate(q *quote.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.Sched.Cancel(s.timerKey(s.active.ID))
	}
	s.active = q
	if q != nil {
		s.lastSaved = q.LastModified
	}
}

// Active returns the quote the session is editing, or nil.
func (s *Session) Active() *quote.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close cancels pending work. Call on session teardown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.Sched.Cancel(s.timerKey(s.active.ID))
	}
	s.active = nil
}

func (s *Session) timerKey(id uuid.UUID) string {
	return s.UserID + "/" + id.String()
}

// Touch records an in-memory edit: the last-modified watermark advances and a
// debounced save is (re)scheduled. The version counter is untouched; it moves
// only on successful persisted saves.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.active.LastModified = s.now()
	id := s.active.ID
	s.Sched.Schedule(s.timerKey(id), s.Debounce, func() {
		s.dispatch(context.Background(), id)
	})
}

// HasUnsaved reports whether edits exist past the last successful save.
func (s *Session) HasUnsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.LastModified.After(s.lastSaved)
}

// Flush saves immediately, cancelling any pending debounce first.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil
	}
	id := s.active.ID
	s.Sched.Cancel(s.timerKey(id))
	if s.inFlight {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.mu.Unlock()
	return s.dispatch(ctx, id)
}

// Replace swaps the session state for a freshly loaded record and re-baselines
// the save watermark. This is the whole-state "reload latest" recovery after a
// version conflict; no field-level reconciliation is attempted.
func (s *Session) Replace(latest *quote.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.Sched.Cancel(s.timerKey(s.active.ID))
	}
	s.active = latest
	if latest != nil {
		s.lastSaved = latest.LastModified
	}
}

// dispatch performs one save attempt for the quote captured at schedule time.
func (s *Session) dispatch(ctx context.Context, capturedID uuid.UUID) error {
	s.mu.Lock()
	if s.active == nil || s.active.ID != capturedID {
		// The session moved to a different quote since this save was
		// scheduled. Never write an unrelated record.
		s.mu.Unlock()
		s.Logger.Debug().Str("quote_id", capturedID.String()).Msg("skipping save for deactivated quote")
		return nil
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	snapshot := s.active.Clone()
	expected := s.active.Version
	s.mu.Unlock()

	newVersion, saveErr := s.Store.Save(ctx, snapshot, expected, s.UserID)

	s.mu.Lock()
	s.inFlight = false
	if s.active == nil || s.active.ID != capturedID {
		// Late response for a quote that is no longer active: drop it.
		s.mu.Unlock()
		return nil
	}
	if saveErr == nil {
		s.active.Version = newVersion
		if snapshot.LastModified.After(s.lastSaved) {
			s.lastSaved = snapshot.LastModified
		}
		active := s.active
		s.mu.Unlock()
		s.Logger.Debug().Str("quote_id", capturedID.String()).Int64("version", newVersion).Msg("quote saved")
		if s.Hooks.OnSaved != nil {
			s.Hooks.OnSaved(active, newVersion)
		}
		return nil
	}
	active := s.active
	s.mu.Unlock()

	switch {
	case errors.Is(saveErr, store.ErrLockConflict):
		s.Logger.Warn().Str("quote_id", capturedID.String()).Msg("save blocked by foreign lock")
		if s.Hooks.OnLockConflict != nil {
			s.Hooks.OnLockConflict(active)
		}
	case errors.Is(saveErr, store.ErrVersionConflict):
		s.Logger.Warn().Str("quote_id", capturedID.String()).Msg("save hit version conflict")
		latest, loadErr := s.Store.Load(ctx, capturedID)
		if loadErr != nil {
			if s.Hooks.OnError != nil {
				s.Hooks.OnError(loadErr)
			}
			return saveErr
		}
		if s.Hooks.OnVersionConflict != nil {
			s.Hooks.OnVersionConflict(latest)
		}
	default:
		s.Logger.Error().Err(saveErr).Str("quote_id", capturedID.String()).Msg("save failed")
		if s.Hooks.OnError != nil {
			s.Hooks.OnError(saveErr)
		}
	}
	return saveErr
}
