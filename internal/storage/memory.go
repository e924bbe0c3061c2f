package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// Memory implements the repository contract in process memory. It backs
// tests and the database-less development mode.
type Memory struct {
	mu            sync.RWMutex
	anomalies     map[string]contracts.Anomaly
	subscriptions map[string]contracts.Subscription
	usage         []contracts.UsageRecord
	webhooks      map[string]contracts.WebhookSubscription
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		anomalies:     make(map[string]contracts.Anomaly),
		subscriptions: make(map[string]contracts.Subscription),
		webhooks:      make(map[string]contracts.WebhookSubscription),
		now:           time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) GetAnomaly(_ context.Context, id string) (contracts.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.anomalies[id]
	if !ok {
		return contracts.Anomaly{}, apperr.NotFound("alert", id)
	}
	return a, nil
}

func (m *Memory) ListAnomaliesBetween(_ context.Context, from, to time.Time) ([]contracts.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.Anomaly
	for _, a := range m.anomalies {
		if !a.Timestamp.Before(from) && !a.Timestamp.After(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) RecentAlertIDs(_ context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	all := make([]contracts.Anomaly, 0, len(m.anomalies))
	for _, a := range m.anomalies {
		all = append(all, a)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	ids := make([]string, 0, len(all))
	for _, a := range all {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (m *Memory) InsertAnomaly(_ context.Context, a contracts.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.anomalies[a.ID]; !exists {
		m.anomalies[a.ID] = a
	}
	return nil
}

// DeleteAnomaly exists for tests that simulate data changes.
func (m *Memory) DeleteAnomaly(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.anomalies, id)
}

func (m *Memory) GetSubscription(_ context.Context, userID string) (contracts.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[userID]
	if !ok {
		return contracts.Subscription{}, apperr.NotFound("subscription", userID)
	}
	return sub, nil
}

func (m *Memory) UpsertSubscription(_ context.Context, sub contracts.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.UserID] = sub
	return nil
}

func (m *Memory) InsertUsage(_ context.Context, rec contracts.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	m.usage = append(m.usage, rec)
	return nil
}

func (m *Memory) CountUsageSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.usage {
		if rec.UserID == userID && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Usage returns a copy of all usage records.
func (m *Memory) Usage() []contracts.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]contracts.UsageRecord(nil), m.usage...)
}

func (m *Memory) CreateWebhook(_ context.Context, w contracts.WebhookSubscription) (contracts.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = m.now().UTC()
	m.webhooks[w.ID] = w
	return w, nil
}

func (m *Memory) ListWebhooks(_ context.Context, userID string) ([]contracts.WebhookSubscription, error) {
	return m.filterWebhooks(func(w contracts.WebhookSubscription) bool { return w.UserID == userID }), nil
}

func (m *Memory) ListActiveWebhooks(context.Context) ([]contracts.WebhookSubscription, error) {
	return m.filterWebhooks(func(w contracts.WebhookSubscription) bool { return w.IsActive }), nil
}

func (m *Memory) DeleteWebhook(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok || w.UserID != userID {
		return apperr.NotFound("webhook", id)
	}
	delete(m.webhooks, id)
	return nil
}

func (m *Memory) filterWebhooks(keep func(contracts.WebhookSubscription) bool) []contracts.WebhookSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []contracts.WebhookSubscription{}
	for _, w := range m.webhooks {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
