package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tokenfolio/internal/learning"
)

const coefficientCacheTTL = 5 * time.Minute

// CoefficientCache is a read-through cache in front of a coefficient store.
// It prefers Redis and silently degrades to an in-memory map when Redis is
// unavailable, so sizing reads never depend on the cache being up.
type CoefficientCache struct {
	store  learning.Store
	client *redis.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	memory   map[string]memoryEntry
	useRedis bool
}

type memoryEntry struct {
	rec       learning.Record
	expiresAt time.Time
}

// NewCoefficientCache wraps a store with caching. client may be nil to run
// memory-only from the start.
func NewCoefficientCache(store learning.Store, client *redis.Client, logger zerolog.Logger) *CoefficientCache {
	c := &CoefficientCache{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "CoefficientCache").Logger(),
		memory: make(map[string]memoryEntry),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("Redis unavailable, coefficient cache falling back to memory")
		} else {
			c.useRedis = true
			c.logger.Info().Msg("Coefficient cache using Redis")
		}
	}
	return c
}

// Get returns the cached record or falls through to the store.
func (c *CoefficientCache) Get(ctx context.Context, key learning.Key) (*learning.Record, error) {
	if rec, ok := c.cachedGet(ctx, key); ok {
		return rec, nil
	}

	rec, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.cachedSet(ctx, *rec)
	}
	return rec, nil
}

// Upsert writes through to the store and refreshes the cache entry.
func (c *CoefficientCache) Upsert(ctx context.Context, rec *learning.Record) error {
	if err := c.store.Upsert(ctx, rec); err != nil {
		return err
	}
	c.cachedSet(ctx, *rec)
	return nil
}

// List always reads the store; module-wide scans are rare and must be fresh.
func (c *CoefficientCache) List(ctx context.Context, module string) ([]*learning.Record, error) {
	return c.store.List(ctx, module)
}

func cacheKey(key learning.Key) string {
	return "tokenfolio:coeff:" + key.String()
}

func (c *CoefficientCache) cachedGet(ctx context.Context, key learning.Key) (*learning.Record, bool) {
	if c.useRedis {
		data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
		if err == nil {
			var rec learning.Record
			if json.Unmarshal(data, &rec) == nil {
				return &rec, true
			}
		} else if err != redis.Nil {
			c.redisFailed(err)
		}
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.memory[key.String()]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	rec := entry.rec
	return &rec, true
}

func (c *CoefficientCache) cachedSet(ctx context.Context, rec learning.Record) {
	if c.useRedis {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		if err := c.client.Set(ctx, cacheKey(rec.Key), data, coefficientCacheTTL).Err(); err != nil {
			c.redisFailed(err)
		}
		return
	}

	c.mu.Lock()
	c.memory[rec.Key.String()] = memoryEntry{rec: rec, expiresAt: time.Now().Add(coefficientCacheTTL)}
	// Keep the fallback map bounded.
	if len(c.memory) > 50000 {
		c.memory = make(map[string]memoryEntry)
	}
	c.mu.Unlock()
}

func (c *CoefficientCache) redisFailed(err error) {
	c.mu.Lock()
	if c.useRedis {
		c.useRedis = false
		c.logger.Warn().Err(err).Msg("Redis error, coefficient cache switching to memory")
	}
	c.mu.Unlock()
}
