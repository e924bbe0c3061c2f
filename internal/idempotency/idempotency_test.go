package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(status int) (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, calls)
	}), &calls
}

func post(h http.Handler, user, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("X-User-ID", user)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func byUser(r *http.Request) string { return r.Header.Get("X-User-ID") }

func TestReplaysSuccessfulResponse(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := Middleware(NewMemory(10, time.Hour), byUser, nil)(next)

	first := post(h, "u1", "k1", `{"alert_id":"A"}`)
	second := post(h, "u1", "k1", `{"alert_id":"A"}`)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestKeysAreScopedPerCaller(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := Middleware(NewMemory(10, time.Hour), byUser, nil)(next)

	post(h, "u1", "k1", `{}`)
	post(h, "u2", "k1", `{}`)
	assert.Equal(t, 2, *calls)
}

func TestRejectsReusedKeyWithDifferentBody(t *testing.T) {
	next, _ := countingHandler(http.StatusOK)
	h := Middleware(NewMemory(10, time.Hour), byUser, nil)(next)

	post(h, "u1", "k1", `{"alert_id":"A"}`)
	rec := post(h, "u1", "k1", `{"alert_id":"B"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFailuresAreNotStored(t *testing.T) {
	next, calls := countingHandler(http.StatusServiceUnavailable)
	h := Middleware(NewMemory(10, time.Hour), byUser, nil)(next)

	post(h, "u1", "k1", `{}`)
	post(h, "u1", "k1", `{}`)
	assert.Equal(t, 2, *calls)
}

func TestWithoutKeyPassesThrough(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	h := Middleware(NewMemory(10, time.Hour), byUser, nil)(next)

	post(h, "u1", "", `{}`)
	post(h, "u1", "", `{}`)
	assert.Equal(t, 2, *calls)
}

func TestRejectsOversizedBody(t *testing.T) {
	next, calls := countingHandler(http.StatusOK)
	store := NewMemory(10, time.Hour)
	h := Middleware(store, byUser, nil)(next)

	body := `{"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	rec := post(h, "u1", "k1", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, *calls)

	rec = post(h, "u1", "k1", `{"alert_id":"A"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderReplayed))
}

func TestRedisStore(t *testing.T) {
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
	defer client.Close()

	store := NewRedis(client, time.Minute, "intel:test:idempotency:")
	key := uuid.NewString()

	_, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := Response{Status: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`), Fingerprint: "abc"}
	require.NoError(t, store.Put(context.Background(), key, want))
	got, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
