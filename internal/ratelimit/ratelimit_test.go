package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBucket(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(1, 3, 10)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := m.Allow(ctx, "user:a")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := m.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	res, err = m.Allow(ctx, "user:b")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per key")

	now = now.Add(time.Second)
	res, err = m.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "refilled after a second")
}

func TestMemoryBoundsKeys(t *testing.T) {
	m := NewMemory(1, 1, 2)
	for _, k := range []string{"a", "b", "c"} {
		_, err := m.Allow(context.Background(), k)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.buckets.Len())
}

func TestUserOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "ip:192.0.2.1", UserOrIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "ip:10.0.0.1", UserOrIP(req))

	req.Header.Set("X-User-ID", "u-1")
	assert.Equal(t, "user:u-1", UserOrIP(req))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	rejected := 0
	h := Middleware(NewMemory(0.001, 1, 10), nil, func() { rejected++ }, nil)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, rejected)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	var seen error
	h := Middleware(failingLimiter{}, nil, nil, func(err error) { seen = err })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Error(t, seen)
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBucket(t *testing.T) {
	client := testRedisClient(t)
	r := NewRedis(client, 0.5, 2, "intel:test:ratelimit:")
	key := uuid.NewString()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := r.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := r.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
