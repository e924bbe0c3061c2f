package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "intel:ratelimit:"

// tokenBucketScript refills and takes one token atomically.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(bucket[1]) or burst
local last_update = tonumber(bucket[2]) or now

local elapsed = (now - last_update) / 1000000000
local new_tokens = math.min(burst, tokens + (elapsed * rate))

local allowed = 0
local wait = 0
if new_tokens >= 1 then
    new_tokens = new_tokens - 1
    allowed = 1
else
    wait = math.ceil(((1 - new_tokens) / rate) * 1000)
end

redis.call('HSET', key, 'tokens', new_tokens, 'last_update', now)
redis.call('EXPIRE', key, math.ceil(burst / rate) + 10)
return {allowed, math.floor(new_tokens), wait}
`)

// Redis shares buckets across API replicas.
type Redis struct {
	client *redis.Client
	prefix string
	rate   float64
	burst  int
	now    func() time.Time
}

func NewRedis(client *redis.Client, perSecond float64, burst int, prefix string) *Redis {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = max(int(perSecond), 1)
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, rate: perSecond, burst: burst, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	out, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key},
		r.now().UnixNano(), r.rate, r.burst).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(out) != 3 {
		return Result{}, fmt.Errorf("redis rate limit: unexpected reply %v", out)
	}
	allowed, _ := out[0].(int64)
	remaining, _ := out[1].(int64)
	waitMs, _ := out[2].(int64)
	return Result{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		Limit:      r.burst,
		RetryAfter: time.Duration(waitMs) * time.Millisecond,
	}, nil
}
