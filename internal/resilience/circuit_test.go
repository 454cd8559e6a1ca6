package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := NewBreaker(4, 0.5, time.Minute)
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Report(true)
	}
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Report(false)
	}
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.Allow())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	require.True(t, b.Allow())
	b.Report(false)
	require.Equal(t, Open, b.CurrentState())

	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow(), "probe permitted after cool-off")
	require.Equal(t, HalfOpen, b.CurrentState())

	b.Report(true)
	require.Equal(t, Closed, b.CurrentState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	b.Report(false)
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	b.Report(false)
	require.Equal(t, Open, b.CurrentState())
}

func TestBackoffGrowth(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 1, 0))
	require.Equal(t, 2*base, Backoff(base, 2, 0))
	require.Equal(t, 4*base, Backoff(base, 3, 0))

	jittered := Backoff(base, 3, 0.2)
	require.InDelta(t, float64(4*base), float64(jittered), float64(4*base)*0.2)
}
