// Package api exposes the intelligence service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/idempotency"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/ratelimit"
)

const serviceName = "intel-api"

// Deps wires the router. Monitor, Limiter and Idempotency are optional; a nil
// value disables the watch stream, rate limiting and key replay respectively.
type Deps struct {
	Service     *intel.Service
	Monitor     *monitor.Manager
	Limiter     ratelimit.Limiter
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	// Ready backs /readyz, typically a database ping.
	Ready func(context.Context) error

	RequestTimeout time.Duration
	Heartbeat      time.Duration
}

type handler struct {
	svc       *intel.Service
	monitor   *monitor.Manager
	logger    *zap.Logger
	ready     func(context.Context) error
	heartbeat time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 15 * time.Second
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = 15 * time.Second
	}
	h := &handler{
		svc:       d.Service,
		monitor:   d.Monitor,
		logger:    d.Logger,
		ready:     d.Ready,
		heartbeat: d.Heartbeat,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
	})
	router.Get("/readyz", h.readyz)
	if d.Metrics != nil {
		router.Handle("/metrics", d.Metrics.Handler())
	}

	router.Route("/v1", func(r chi.Router) {
		r.Use(requireUser)
		if d.Limiter != nil {
			r.Use(ratelimit.Middleware(d.Limiter, ratelimit.UserOrIP, d.Metrics.RateLimited, func(err error) {
				d.Logger.Warn("rate limiter unavailable", zap.Error(err))
			}))
		}

		// The watch stream is long-lived and sits outside the request timeout.
		r.Get("/intelligence/{alertID}/watch", h.watch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.RequestTimeout))
			if d.Idempotency != nil {
				r.Use(idempotency.Middleware(d.Idempotency, userScope, func(err error) {
					d.Logger.Warn("idempotency store unavailable", zap.Error(err))
				}))
			}

			r.Post("/intelligence/analyze", h.analyze)
			r.Post("/intelligence/batch", h.analyzeBatch)
			r.Post("/intelligence/predict", h.predict)
			r.Get("/intelligence/{alertID}/export", h.export)

			r.Post("/webhooks", h.subscribeWebhook)
			r.Get("/webhooks", h.listWebhooks)
			r.Delete("/webhooks/{id}", h.deleteWebhook)

			r.Get("/usage", h.usage)
		})
	})

	return router
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "service": serviceName})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}
