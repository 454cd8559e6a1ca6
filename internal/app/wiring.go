package app

import (
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewRateLimitMiddleware builds an HTTP middleware enforcing the formatted
// rate (e.g. "300-M"). The counter lives in redis when a client is given so
// limits hold across instances; otherwise it falls back to an in-memory store.
func NewRateLimitMiddleware(rdb *redis.Client, formatted string) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("app: parse rate %q: %w", formatted, err)
	}
	var store limiter.Store
	if rdb != nil {
		store, err = limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit"})
		if err != nil {
			return nil, fmt.Errorf("app: limiter store: %w", err)
		}
	} else {
		store = limitermemory.NewStore()
	}
	mw := limiterstdlib.NewMiddleware(limiter.New(store, rate, limiter.WithClientIPHeader("X-Forwarded-For")))
	return mw.Handler, nil
}

// NewTaskClient builds the asynq client used to enqueue webhook deliveries. A
// nil return means async notifications are disabled.
func NewTaskClient(redisURL string) (*asynq.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis uri for task queue: %w", err)
	}
	return asynq.NewClient(opt), nil
}
