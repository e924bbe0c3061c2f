package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBaselinePrefix = "intel:baseline:"

// RedisBaselines stores baselines as JSON strings with a TTL, so they
// survive restarts of the watching process.
type RedisBaselines struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisBaselines(client *redis.Client, prefix string, ttl time.Duration) *RedisBaselines {
	if prefix == "" {
		prefix = defaultBaselinePrefix
	}
	return &RedisBaselines{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisBaselines) Get(ctx context.Context, watchID string) (Baseline, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+watchID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Baseline{}, false, nil
	}
	if err != nil {
		return Baseline{}, false, fmt.Errorf("redis get baseline: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, false, fmt.Errorf("decode baseline: %w", err)
	}
	return b, true, nil
}

func (r *RedisBaselines) Put(ctx context.Context, watchID string, b Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+watchID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set baseline: %w", err)
	}
	return nil
}

func (r *RedisBaselines) Delete(ctx context.Context, watchID string) error {
	if err := r.client.Del(ctx, r.prefix+watchID).Err(); err != nil {
		return fmt.Errorf("redis del baseline: %w", err)
	}
	return nil
}
