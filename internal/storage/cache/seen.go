// Package cache keeps a short-lived Redis record of sale identities already
// handled, so repeated listings skip the database round trip.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "boxtracker:seen:"

type SeenCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSeenCache returns a cache whose entries expire after ttl. A zero ttl keeps
// entries forever.
func NewSeenCache(rdb *redis.Client, prefix string, ttl time.Duration) *SeenCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SeenCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *SeenCache) key(uniqueID string) string {
	return c.prefix + uniqueID
}

func (c *SeenCache) Seen(ctx context.Context, uniqueID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(uniqueID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (c *SeenCache) Mark(ctx context.Context, uniqueID string) error {
	if err := c.rdb.Set(ctx, c.key(uniqueID), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

const purgeBatch = 500

// Purge removes every entry under the cache prefix and returns how many were
// removed. Run it after sales are deleted from the store, otherwise their
// identities would still read as seen.
func (c *SeenCache) Purge(ctx context.Context) (int64, error) {
	var (
		removed int64
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += n
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", purgeBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= purgeBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
