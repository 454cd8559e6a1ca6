package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores JSON payloads in Redis with a fixed TTL. A nil client turns
// every operation into a miss so callers need no branching.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached payload into dst, reporting whether the key
// existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v and stores it under key with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedSource wraps a Source with read-through caching. Cache failures are
// swallowed; the price service remains the source of truth.
type CachedSource struct {
	Inner Source
	Cache *Cache
}

type cachedMapping struct {
	Mapping ContainerMapping `json:"mapping"`
	Found   bool             `json:"found"`
}

// Model implements Source.
func (s *CachedSource) Model(ctx context.Context, family, model string) (Model, error) {
	key := "catalog:model:" + family + ":" + model
	var cached Model
	if hit, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}
	out, err := s.Inner.Model(ctx, family, model)
	if err != nil {
		return Model{}, err
	}
	_ = s.Cache.SetJSON(ctx, key, out)
	return out, nil
}

// ContainerMapping implements Source. Negative lookups are cached too so an
// unmapped family does not hammer the price service on every suggestion.
func (s *CachedSource) ContainerMapping(ctx context.Context, family string) (ContainerMapping, bool, error) {
	key := "catalog:container:" + family
	var cached cachedMapping
	if hit, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached.Mapping, cached.Found, nil
	}
	mapping, found, err := s.Inner.ContainerMapping(ctx, family)
	if err != nil {
		return ContainerMapping{}, false, err
	}
	_ = s.Cache.SetJSON(ctx, key, cachedMapping{Mapping: mapping, Found: found})
	return mapping, found, nil
}
