package webhook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
)

type watchKey struct {
	alertID string
	window  int
}

// Reconciler keeps exactly one watch per (alert, window) referenced by an
// active webhook subscription. Watch events reach subscribers through the
// manager's sinks.
type Reconciler struct {
	store    ActiveWebhooks
	manager  *monitor.Manager
	interval time.Duration
	logger   *zap.Logger

	watches map[watchKey]*monitor.Watch
}

func NewReconciler(store ActiveWebhooks, manager *monitor.Manager, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		manager:  manager,
		interval: interval,
		logger:   logger,
		watches:  make(map[watchKey]*monitor.Watch),
	}
}

// Run reconciles now and on every interval, and stops all watches on exit.
// It must not be called concurrently with Reconcile.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.stopAll()

	for {
		if err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("webhook reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Reconcile starts missing watches and stops unreferenced ones. A watch that
// fails to start, such as for a deleted alert, is retried next round.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	subs, err := r.store.ListActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list webhook subscriptions: %w", err)
	}

	desired := make(map[watchKey]struct{})
	for _, sub := range subs {
		for _, id := range sub.AlertIDs {
			desired[watchKey{alertID: id, window: sub.TimeWindow}] = struct{}{}
		}
	}

	for key, w := range r.watches {
		if _, ok := desired[key]; !ok {
			w.Stop()
			delete(r.watches, key)
		}
	}
	for key := range desired {
		if _, ok := r.watches[key]; ok {
			continue
		}
		w, err := r.manager.Watch(ctx, key.alertID, key.window)
		if err != nil {
			r.logger.Warn("start webhook watch",
				zap.String("alert_id", key.alertID),
				zap.Int("window_days", key.window),
				zap.Error(err))
			continue
		}
		go drain(w)
		r.watches[key] = w
	}
	return nil
}

// Active returns the number of running watches.
func (r *Reconciler) Active() int { return len(r.watches) }

func (r *Reconciler) stopAll() {
	for key, w := range r.watches {
		w.Stop()
		delete(r.watches, key)
	}
}

func drain(w *monitor.Watch) {
	for range w.Events() {
	}
}
