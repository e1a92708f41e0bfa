package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clipforge/server/internal/module/analytics"
)

const (
	analyticsKeyPrefix = "clipforge:analytics:"
	analyticsTTL       = 30 * 24 * time.Hour
)

// analyticsCounter implements analytics.Counter with one hash per video.
type analyticsCounter struct {
	client redis.UniversalClient
}

// NewAnalyticsCounter creates a new analytics counter.
func NewAnalyticsCounter(client redis.UniversalClient) analytics.Counter {
	return &analyticsCounter{client: client}
}

func (c *analyticsCounter) Incr(ctx context.Context, videoID string, deltas map[string]int64) error {
	key := analyticsKeyPrefix + videoID
	pipe := c.client.TxPipeline()
	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		pipe.HIncrBy(ctx, key, field, delta)
	}
	pipe.Expire(ctx, key, analyticsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr analytics counters: %w", err)
	}
	return nil
}

func (c *analyticsCounter) Get(ctx context.Context, videoID string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, analyticsKeyPrefix+videoID).Result()
	if err != nil {
		return nil, fmt.Errorf("get analytics counters: %w", err)
	}

	out := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

var _ analytics.Counter = (*analyticsCounter)(nil)
