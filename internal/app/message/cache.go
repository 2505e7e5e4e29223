package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relay/internal/metrics"
	"relay/internal/providers/redis"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HistoryCache holds history snapshots. It is advisory: a miss or any cache
// error falls through to the store, and every mutation invalidates it.
type HistoryCache interface {
	Fetch(ctx context.Context, limit int, load func(context.Context) ([]*Message, error)) ([]*Message, error)
	Invalidate(ctx context.Context)
}

// redisHistoryCache keys snapshots by a generation counter. Invalidate bumps the
// generation, so a snapshot loaded concurrently with a mutation is written
// under the old generation and never served.
type redisHistoryCache struct {
	redisP      *redis.RedisProvider
	ttl         time.Duration
	cachePrefix string
	logger      *zap.SugaredLogger
}

func NewRedisHistoryCache(redisP *redis.RedisProvider, ttl time.Duration, logger *zap.Logger) HistoryCache {
	return &redisHistoryCache{
		redisP:      redisP,
		ttl:         ttl,
		cachePrefix: "messages:live",
		logger:      logger.Sugar(),
	}
}

func (c *redisHistoryCache) genKey() string {
	return c.cachePrefix + ":gen"
}

func (c *redisHistoryCache) snapshotKey(gen int64, limit int) string {
	return fmt.Sprintf("%s:%d:limit:%d", c.cachePrefix, gen, limit)
}

func (c *redisHistoryCache) generation(ctx context.Context) (int64, error) {
	v, err := c.redisP.Get(ctx, c.genKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *redisHistoryCache) Fetch(ctx context.Context, limit int, load func(context.Context) ([]*Message, error)) ([]*Message, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warnw("History cache generation unavailable", "error", err)
		metrics.HistoryCache.WithLabelValues("error").Inc()
		return load(ctx)
	}

	key := c.snapshotKey(gen, limit)
	cachedData, err := c.redisP.Get(ctx, key).Result()
	if err == nil && cachedData != "" {
		var messages []*Message
		if json.Unmarshal([]byte(cachedData), &messages) == nil {
			metrics.HistoryCache.WithLabelValues("hit").Inc()
			for _, m := range messages {
				normalize(m)
			}
			return messages, nil
		}
	}
	metrics.HistoryCache.WithLabelValues("miss").Inc()

	messages, err := load(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(messages)
	if err == nil {
		if err := c.redisP.SetEX(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warnw("Failed to store history snapshot", "key", key, "error", err)
		}
	}
	return messages, nil
}

func (c *redisHistoryCache) Invalidate(ctx context.Context) {
	gen, err := c.redisP.Incr(ctx, c.genKey()).Result()
	if err != nil {
		c.logger.Warnw("Failed to bump history cache generation", "error", err)
		return
	}
	c.purgeBefore(ctx, gen)
}

// purgeBefore deletes snapshots of older generations. They can never be served
// again, so this only reclaims memory ahead of their TTL.
func (c *redisHistoryCache) purgeBefore(ctx context.Context, gen int64) {
	pattern := c.cachePrefix + ":*:limit:*"
	current := fmt.Sprintf("%s:%d:", c.cachePrefix, gen)
	var cursor uint64
	deletedCount := 0

	for {
		keys, cur, err := c.redisP.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.logger.Warnw("Redis scan failed during cache invalidation", "error", err, "pattern", pattern)
			return
		}

		stale := keys[:0]
		for _, k := range keys {
			if !strings.HasPrefix(k, current) {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			n, err := c.redisP.Del(ctx, stale...).Result()
			if err != nil {
				c.logger.Warnw("Failed to delete cache keys", "error", err, "keys", stale)
			} else {
				deletedCount += int(n)
			}
		}

		if cur == 0 {
			break
		}
		cursor = cur
	}

	if deletedCount > 0 {
		c.logger.Debugw("History cache invalidated", "generation", gen, "deleted_keys", deletedCount)
	}
}

// History serves live-history snapshots, through the cache when one is configured.
type History struct {
	repo  Repository
	cache HistoryCache
	limit int
}

func NewHistory(repo Repository, cache HistoryCache, limit int) *History {
	return &History{repo: repo, cache: cache, limit: limit}
}

func (h *History) Limit() int {
	return h.limit
}

func (h *History) Snapshot(ctx context.Context) ([]*Message, error) {
	load := func(ctx context.Context) ([]*Message, error) {
		return h.repo.ListLive(ctx, h.limit)
	}
	if h.cache == nil {
		return load(ctx)
	}
	return h.cache.Fetch(ctx, h.limit, load)
}

func (h *History) Invalidate(ctx context.Context) {
	if h.cache != nil {
		h.cache.Invalidate(ctx)
	}
}
