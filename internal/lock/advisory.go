package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the caller's context runs out while the
// advisory lock is still held elsewhere.
var ErrNotAcquired = errors.New("lock: advisory lock not acquired")

// Advisory is a Redis-backed mutex used to fence read-modify-write cycles on
// the record store across service instances. It is unrelated to the user-facing
// quote lock handled by Coordinator.
type Advisory struct {
	R            *redis.Client
	TTL          time.Duration
	RetryBackoff time.Duration
}

// WithLock runs fn while holding the advisory lock for key, retrying
// acquisition until the context is cancelled. The lock is released on return
// even when fn fails; release is token-guarded so an expired lock taken over
// by another instance is never deleted from under it.
func (a Advisory) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if a.R == nil {
		// No redis configured: single-instance deployment, nothing to fence.
		return fn(ctx)
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	retry := a.RetryBackoff
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := a.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer a.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

func (a Advisory) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	_ = a.R.Eval(ctx, script, []string{key}, token).Err()
}
