package lock

import "time"

// DefaultStaleAfter is how old a held lock may grow before it is treated as
// absent. Staleness is evaluated lazily at query time; there is no background
// sweep.
const DefaultStaleAfter = time.Hour

// State is the lock field pair stored on a quote record. A zero State means
// unlocked.
type State struct {
	OwnerID    string
	AcquiredAt time.Time
}

// Held reports whether any owner is recorded, stale or not.
func (s State) Held() bool {
	return s.OwnerID != ""
}

// Policy describes who may edit a record in its current workflow status.
type Policy int

const (
	// PolicyDeny blocks editing entirely.
	PolicyDeny Policy = iota
	// PolicyOwner permits the record's owner or assignee.
	PolicyOwner
	// PolicyOwnerOrApprover additionally permits the designated approver.
	PolicyOwnerOrApprover
)

// Coordinator implements single-writer mutual exclusion over a quote record.
// It is a pure state machine: callers pass the stored State in and persist
// whatever comes back.
type Coordinator struct {
	StaleAfter time.Duration
	Now        func() time.Time
}

func (c Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Coordinator) staleAfter() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter
	}
	return DefaultStaleAfter
}

// Stale reports whether a held lock has outlived the staleness threshold.
func (c Coordinator) Stale(s State) bool {
	if !s.Held() {
		return false
	}
	return c.now().Sub(s.AcquiredAt) > c.staleAfter()
}

// Acquire attempts to take the lock for userID. It succeeds when the lock is
// free, stale, or already held by the same user; re-acquisition refreshes the
// timestamp. On failure the input state is returned unchanged.
func (c Coordinator) Acquire(s State, userID string) (State, bool) {
	if userID == "" {
		return s, false
	}
	if s.Held() && s.OwnerID != userID && !c.Stale(s) {
		return s, false
	}
	return State{OwnerID: userID, AcquiredAt: c.now()}, true
}

// Release clears the lock only when held by userID; anything else is a no-op.
func (c Coordinator) Release(s State, userID string) State {
	if s.OwnerID == userID {
		return State{}
	}
	return s
}

// HeldByOther reports whether a different, non-stale owner holds the lock.
func (c Coordinator) HeldByOther(s State, userID string) bool {
	if !s.Held() || s.OwnerID == userID {
		return false
	}
	return !c.Stale(s)
}

// CanEdit combines the status-dependent authorization policy with the lock:
// an eligible user may still not edit while someone else holds a fresh lock.
func (c Coordinator) CanEdit(s State, userID string, pol Policy, ownerID, approverID string) bool {
	if userID == "" {
		return false
	}
	var eligible bool
	switch pol {
	case PolicyOwner:
		eligible = userID == ownerID
	case PolicyOwnerOrApprover:
		eligible = userID == ownerID || (approverID != "" && userID == approverID)
	default:
		return false
	}
	if !eligible {
		return false
	}
	return !c.HeldByOther(s, userID)
}
