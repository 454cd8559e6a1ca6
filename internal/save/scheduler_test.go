package save

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32
	s.Schedule("k", 5*time.Millisecond, func() { fired.Add(1) })
	require.True(t, s.Pending("k"))

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	require.False(t, s.Pending("k"))
}

func TestScheduleReplacesPending(t *testing.T) {
	s := NewScheduler()
	var first, second atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 5*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, first.Load(), "replaced timer must not fire")
}

func TestCancelStopsTimer(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32
	s.Schedule("k", 10*time.Millisecond, func() { fired.Add(1) })
	s.Cancel("k")
	require.False(t, s.Pending("k"))
	time.Sleep(25 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestCancelAll(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32
	s.Schedule("a", 10*time.Millisecond, func() { fired.Add(1) })
	s.Schedule("b", 10*time.Millisecond, func() { fired.Add(1) })
	s.CancelAll()
	time.Sleep(25 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestIndependentKeys(t *testing.T) {
	s := NewScheduler()
	var a, b atomic.Int32
	s.Schedule("a", 5*time.Millisecond, func() { a.Add(1) })
	s.Schedule("b", 5*time.Millisecond, func() { b.Add(1) })
	require.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, time.Second, time.Millisecond)
}
