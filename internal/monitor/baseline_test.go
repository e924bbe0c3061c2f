package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func exerciseBaselineStore(t *testing.T, store BaselineStore) {
	ctx := context.Background()
	_, ok, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Baseline{CascadingImpact: 42.5, OverallRisk: 61, FactorIDs: []string{"a", "b"}, UpdatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Put(ctx, "w1", want))

	got, ok, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, store.Delete(ctx, "w1"))
	_, ok, err = store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBaselines(t *testing.T) {
	exerciseBaselineStore(t, NewMemoryBaselines(10, time.Hour))
}

func TestMemoryBaselinesEvictOldest(t *testing.T) {
	store := NewMemoryBaselines(2, time.Hour)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, id, Baseline{}))
	}
	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestRedisBaselines(t *testing.T) {
	client := testRedisClient(t)
	exerciseBaselineStore(t, NewRedisBaselines(client, "intel:test:baseline:", time.Minute))
}
