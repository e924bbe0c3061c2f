// Package ratelimit throttles API callers through an injected Limiter, so
// the bucket state can live in process or in Redis.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Memory is a per-key token bucket held in a bounded LRU. Evicted keys start
// over with a full bucket.
type Memory struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

func NewMemory(perSecond float64, burst, maxKeys int) *Memory {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if burst <= 0 {
		burst = max(int(perSecond), 1)
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxKeys)
	return &Memory{
		buckets: buckets,
		rate:    rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	lim, ok := m.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(m.rate, m.burst)
		m.buckets.Add(key, lim)
	}
	m.mu.Unlock()

	now := m.now()
	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Result{Allowed: false, Limit: m.burst, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Limit: m.burst, Remaining: int(lim.TokensAt(now))}, nil
}

// KeyFunc derives the bucket key of a request.
type KeyFunc func(*http.Request) string

// UserOrIP keys by the X-User-ID header, falling back to the client address.
func UserOrIP(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return "user:" + id
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over the limit with 429. A limiter error fails
// open: the request proceeds and onError is told.
func Middleware(l Limiter, key KeyFunc, onReject func(), onError func(error)) func(http.Handler) http.Handler {
	if key == nil {
		key = UserOrIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), key(r))
			if err != nil {
				if onError != nil {
					onError(err)
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				if onReject != nil {
					onReject()
				}
				secs := int(res.RetryAfter.Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
