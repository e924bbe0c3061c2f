// Package app assembles the components shared by the binaries from a
// loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/cascade"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/config"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/idempotency"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/ratelimit"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/storage"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/webhook"
)

const (
	baselineCacheSize = 10000
	redisPrefix       = "intel:"
)

// Store is everything the binaries read and write. Both the Postgres
// repository and the in-memory store satisfy it.
type Store interface {
	cascade.AnomalySource
	tier.SubscriptionStore
	tier.UsageStore
	intel.WebhookStore
	webhook.ActiveWebhooks
	monitor.RecentAlerts
	Ping(ctx context.Context) error
}

// OpenStore connects to Postgres, running migrations when configured. An
// empty database URL selects the in-memory store.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, func(), error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, using in-memory store")
		return storage.NewMemory(), func() {}, nil
	}
	pool, err := storage.Open(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := storage.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return storage.NewRepository(pool), pool.Close, nil
}

// OpenRedis returns nil when no address is configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func NewEngine(cfg config.Config, store cascade.AnomalySource) *cascade.Engine {
	return cascade.NewEngine(store, cfg.Engine.Params)
}

func NewGate(cfg config.Config, store Store) *tier.Gate {
	return tier.NewGate(store, store, cfg.Tiers.Catalog(), tier.WithDefaultWindow(cfg.Engine.DefaultWindowDays))
}

func MonitorConfig(cfg config.Config) monitor.Config {
	return monitor.Config{
		Interval:      cfg.Monitor.Interval,
		CascadeDelta:  cfg.Monitor.CascadeDelta,
		RiskThreshold: cfg.Monitor.RiskThreshold,
		ScanInterval:  cfg.Monitor.ScanInterval,
		ScanLimit:     cfg.Monitor.ScanLimit,
		EventBuffer:   cfg.Monitor.EventBuffer,
		WindowDays:    cfg.Engine.DefaultWindowDays,
	}
}

func Baselines(cfg config.Config, client *redis.Client) monitor.BaselineStore {
	if client != nil {
		return monitor.NewRedisBaselines(client, redisPrefix+"baseline:", cfg.Monitor.BaselineTTL)
	}
	return monitor.NewMemoryBaselines(baselineCacheSize, cfg.Monitor.BaselineTTL)
}

// Limiter returns nil when rate limiting is disabled.
func Limiter(cfg config.Config, client *redis.Client) ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if client != nil {
		return ratelimit.NewRedis(client, cfg.RateLimit.Rate, cfg.RateLimit.Burst, redisPrefix+"ratelimit:")
	}
	return ratelimit.NewMemory(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.MaxKeys)
}

// Idempotency returns nil when key replay is disabled.
func Idempotency(cfg config.Config, client *redis.Client) idempotency.Store {
	if !cfg.Idempotency.Enabled {
		return nil
	}
	if client != nil {
		return idempotency.NewRedis(client, cfg.Idempotency.TTL, redisPrefix+"idem:")
	}
	return idempotency.NewMemory(cfg.Idempotency.MaxEntries, cfg.Idempotency.TTL)
}

func WebhookConfig(cfg config.Config) webhook.Config {
	wc := webhook.DefaultConfig()
	wc.Workers = cfg.Webhook.Workers
	wc.QueueSize = cfg.Webhook.QueueSize
	wc.Timeout = cfg.Webhook.Timeout
	wc.MaxAttempts = cfg.Webhook.MaxAttempts
	wc.SigningSecret = cfg.Webhook.SigningSecret
	return wc
}

// OpsServer serves /healthz, /readyz and /metrics for the worker binaries.
func OpsServer(addr, service string, ready func(context.Context) error, mt *metrics.Metrics) *http.Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": service})
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "service": service})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": service})
	})
	router.Handle("/metrics", mt.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
