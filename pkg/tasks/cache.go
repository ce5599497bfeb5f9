package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "pipeline:task:"

// Cache keeps the latest snapshot of each task in redis so pollers do not hit
// postgres on every batch. A nil client disables it.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(id uuid.UUID) string {
	return cacheKeyPrefix + id.String()
}

func (c *Cache) Put(ctx context.Context, task Task) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(task.ID), payload, c.ttl).Err()
}

// Get returns ok=false on a cache miss.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (Task, bool, error) {
	if c == nil || c.rdb == nil {
		return Task{}, false, nil
	}
	payload, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}
