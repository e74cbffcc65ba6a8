package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedSource keeps complete answers of next in redis for ttl. Partial
// answers (next returned an error) are passed through uncached.
type CachedSource struct {
	next Source
	rdb  *redis.Client
	ttl  time.Duration
}

func NewCachedSource(next Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedSource{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(userID uint, from, to time.Time) string {
	return fmt.Sprintf("calendar:events:%d:%d:%d", userID, from.Unix(), to.Unix())
}

func (c *CachedSource) GetEvents(ctx context.Context, userID uint, from, to time.Time) ([]Event, error) {
	key := cacheKey(userID, from, to)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var events []Event
		if jerr := json.Unmarshal(raw, &events); jerr == nil {
			return events, nil
		}
		zap.L().Warn("[Calendar] dropping corrupt cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		zap.L().Warn("[Calendar] cache read failed", zap.String("key", key), zap.Error(err))
	}

	events, err := c.next.GetEvents(ctx, userID, from, to)
	if err != nil {
		return events, err
	}

	if data, jerr := json.Marshal(events); jerr == nil {
		if serr := c.rdb.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			zap.L().Warn("[Calendar] cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return events, nil
}

// Invalidate drops every cached range of userID.
func (c *CachedSource) Invalidate(ctx context.Context, userID uint) error {
	iter := c.rdb.Scan(ctx, 0, fmt.Sprintf("calendar:events:%d:*", userID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
