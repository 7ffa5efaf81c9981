package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"quadrantd/domain"
)

const quadrantCacheVersion = 1

type cachedQuadrant struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

// QuadrantCache keeps per-quadrant listings in Redis in front of the SQLite
// store. It is strictly optional: with a nil client every lookup is a miss
// and every write a no-op, so callers never branch on whether Redis is
// configured. Stale or unreadable entries are dropped, never served.
type QuadrantCache struct {
	store *Store
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewQuadrantCache wraps store with a Redis listing cache. client may be nil.
func NewQuadrantCache(store *Store, client *redis.Client, ttl time.Duration) *QuadrantCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &QuadrantCache{store: store, redis: client, ttl: ttl, now: time.Now}
}

// ListQuadrant returns the quadrant's tasks, from cache when fresh.
func (c *QuadrantCache) ListQuadrant(ctx context.Context, q domain.Quadrant) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, q); ok {
		return tasks, nil
	}
	tasks, err := c.store.ListQuadrant(ctx, q)
	if err != nil {
		return nil, err
	}
	c.save(ctx, q, tasks)
	return tasks, nil
}

// Refresh re-reads the given quadrants from the store and rewrites their
// cache entries. Called after commits; failures only log, the store stays
// authoritative.
func (c *QuadrantCache) Refresh(ctx context.Context, quadrants ...domain.Quadrant) {
	if c.redis == nil {
		return
	}
	for _, q := range quadrants {
		tasks, err := c.store.ListQuadrant(ctx, q)
		if err != nil {
			log.WithError(err).WithField("quadrant", int(q)).Warn("cache refresh read failed")
			c.evict(ctx, q)
			continue
		}
		c.save(ctx, q, tasks)
	}
}

// Invalidate drops the cache entries for the given quadrants.
func (c *QuadrantCache) Invalidate(ctx context.Context, quadrants ...domain.Quadrant) {
	for _, q := range quadrants {
		c.evict(ctx, q)
	}
}

func (c *QuadrantCache) load(ctx context.Context, q domain.Quadrant) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, quadrantCacheKey(q)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, quadrantCacheKey(q)).Err()
		}
		return nil, false
	}
	var entry cachedQuadrant
	if err := json.Unmarshal(data, &entry); err != nil || entry.Version != quadrantCacheVersion {
		_ = c.redis.Del(ctx, quadrantCacheKey(q)).Err()
		return nil, false
	}
	return entry.Tasks, true
}

func (c *QuadrantCache) save(ctx context.Context, q domain.Quadrant, tasks []domain.Task) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(cachedQuadrant{
		Version:  quadrantCacheVersion,
		CachedAt: c.now(),
		Tasks:    tasks,
	})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, quadrantCacheKey(q), data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("quadrant", int(q)).Warn("cache write failed")
	}
}

func (c *QuadrantCache) evict(ctx context.Context, q domain.Quadrant) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, quadrantCacheKey(q)).Err()
}

func quadrantCacheKey(q domain.Quadrant) string {
	return "q:" + strconv.Itoa(int(q))
}
