// Package idempotency replays the stored response of a POST retried with the
// same Idempotency-Key.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 255

	// MaxBodyBytes bounds the body buffered for fingerprinting.
	MaxBodyBytes = 1 << 20
)

// Response is a captured successful response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	// Fingerprint is the request body hash the response was produced for.
	Fingerprint string `json:"fingerprint"`
}

type Store interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Put(ctx context.Context, key string, resp Response) error
}

type Memory struct {
	cache *expirable.LRU[string, Response]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 10000
	}
	return &Memory{cache: expirable.NewLRU[string, Response](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (Response, bool, error) {
	resp, ok := m.cache.Get(key)
	return resp, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, resp Response) error {
	m.cache.Add(key, resp)
	return nil
}

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "intel:idempotency:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (Response, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("redis get idempotency key: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return resp, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	return r.client.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware applies to POST requests carrying an Idempotency-Key. scope
// namespaces keys per caller. Only 2xx responses are stored; failures,
// including transient ones, run again on retry. Store errors fall through
// to normal handling.
func Middleware(store Store, scope func(*http.Request) string, onError func(error)) func(http.Handler) http.Handler {
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(idemKey) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			fingerprint := hex.EncodeToString(sum[:])

			key := r.URL.Path + ":" + idemKey
			if scope != nil {
				key = scope(r) + ":" + key
			}

			cached, ok, err := store.Get(r.Context(), key)
			if err != nil {
				report(err)
			} else if ok {
				if cached.Fingerprint != fingerprint {
					writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request body")
					return
				}
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				err := store.Put(r.Context(), key, Response{
					Status:      rec.status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
					Fingerprint: fingerprint,
				})
				if err != nil {
					report(err)
				}
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
