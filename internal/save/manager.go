package save

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/store"
)

// Manager hands out one Session per user so each editor gets its own debounce
// timer and dirty state.
type Manager struct {
	Store    store.Store
	Sched    *Scheduler
	Debounce time.Duration
	Logger   zerolog.Logger
	Hooks    Hooks

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager sharing one scheduler.
func NewManager(st store.Store, debounce time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		Store:    st,
		Sched:    NewScheduler(),
		Debounce: debounce,
		Logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// SessionFor returns the user's session, creating it on first use.
func (m *Manager) SessionFor(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := NewSession(userID, m.Store, m.Sched, m.Debounce, m.Logger.With().Str("user_id", userID).Logger())
	s.Hooks = m.Hooks
	m.sessions[userID] = s
	return s
}

// Shutdown cancels all pending timers across sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Close()
	}
	m.Sched.CancelAll()
}
