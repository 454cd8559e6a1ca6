package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAcquireAndReacquire(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{Now: fixedClock(now)}

	st, ok := c.Acquire(State{}, "alice")
	require.True(t, ok)
	require.Equal(t, "alice", st.OwnerID)
	require.Equal(t, now, st.AcquiredAt)

	// Same user refreshes the timestamp.
	later := now.Add(10 * time.Minute)
	c.Now = fixedClock(later)
	st2, ok := c.Acquire(st, "alice")
	require.True(t, ok)
	require.Equal(t, later, st2.AcquiredAt)
}

func TestAcquireDeniedWhileFresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{Now: fixedClock(now)}

	st, _ := c.Acquire(State{}, "alice")

	c.Now = fixedClock(now.Add(30 * time.Minute))
	denied, ok := c.Acquire(st, "bob")
	require.False(t, ok)
	require.Equal(t, st, denied, "failed acquire must not mutate state")
}

func TestAcquireSucceedsOnceStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{Now: fixedClock(now)}
	st, _ := c.Acquire(State{}, "alice")

	c.Now = fixedClock(now.Add(time.Hour + time.Second))
	st2, ok := c.Acquire(st, "bob")
	require.True(t, ok)
	require.Equal(t, "bob", st2.OwnerID)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	c := Coordinator{Now: fixedClock(time.Now())}
	st, _ := c.Acquire(State{}, "alice")

	require.Equal(t, st, c.Release(st, "bob"))
	require.Equal(t, State{}, c.Release(st, "alice"))
	require.Equal(t, State{}, c.Release(State{}, "alice"))
}

func TestHeldByOther(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{Now: fixedClock(now)}
	st, _ := c.Acquire(State{}, "alice")

	require.False(t, c.HeldByOther(st, "alice"))
	require.True(t, c.HeldByOther(st, "bob"))
	require.False(t, c.HeldByOther(State{}, "bob"))

	// A stale lock reads as absent regardless of its stored owner.
	c.Now = fixedClock(now.Add(2 * time.Hour))
	require.False(t, c.HeldByOther(st, "bob"))
}

func TestCanEditPolicies(t *testing.T) {
	c := Coordinator{Now: fixedClock(time.Now())}

	require.True(t, c.CanEdit(State{}, "owner", PolicyOwner, "owner", "approver"))
	require.False(t, c.CanEdit(State{}, "approver", PolicyOwner, "owner", "approver"))
	require.True(t, c.CanEdit(State{}, "approver", PolicyOwnerOrApprover, "owner", "approver"))
	require.False(t, c.CanEdit(State{}, "stranger", PolicyOwnerOrApprover, "owner", "approver"))
	require.False(t, c.CanEdit(State{}, "owner", PolicyDeny, "owner", "approver"))
	require.False(t, c.CanEdit(State{}, "", PolicyOwner, "", ""))

	// Empty approver id never matches.
	require.False(t, c.CanEdit(State{}, "", PolicyOwnerOrApprover, "owner", ""))
}

func TestCanEditBlockedByForeignLock(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{Now: fixedClock(now)}
	st, _ := c.Acquire(State{}, "other")

	require.False(t, c.CanEdit(st, "owner", PolicyOwner, "owner", ""))

	// Once the foreign lock goes stale the owner may edit again.
	c.Now = fixedClock(now.Add(90 * time.Minute))
	require.True(t, c.CanEdit(st, "owner", PolicyOwner, "owner", ""))
}

func TestCustomStaleThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := Coordinator{StaleAfter: time.Minute, Now: fixedClock(now)}
	st, _ := c.Acquire(State{}, "alice")

	c.Now = fixedClock(now.Add(61 * time.Second))
	require.True(t, c.Stale(st))
	_, ok := c.Acquire(st, "bob")
	require.True(t, ok)
}
