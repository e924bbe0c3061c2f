package monitor

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Baseline is the comparison state of one watch.
type Baseline struct {
	CascadingImpact float64   `json:"cascading_impact"`
	OverallRisk     float64   `json:"overall_risk"`
	FactorIDs       []string  `json:"factor_ids"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BaselineStore keeps one baseline per watch id. Each entry is read and
// written only by the goroutine of the watch that owns it.
type BaselineStore interface {
	Get(ctx context.Context, watchID string) (Baseline, bool, error)
	Put(ctx context.Context, watchID string, b Baseline) error
	Delete(ctx context.Context, watchID string) error
}

// MemoryBaselines is a bounded, expiring in-process BaselineStore.
type MemoryBaselines struct {
	cache *expirable.LRU[string, Baseline]
}

func NewMemoryBaselines(size int, ttl time.Duration) *MemoryBaselines {
	if size <= 0 {
		size = 10000
	}
	return &MemoryBaselines{cache: expirable.NewLRU[string, Baseline](size, nil, ttl)}
}

func (m *MemoryBaselines) Get(_ context.Context, watchID string) (Baseline, bool, error) {
	b, ok := m.cache.Get(watchID)
	return b, ok, nil
}

func (m *MemoryBaselines) Put(_ context.Context, watchID string, b Baseline) error {
	m.cache.Add(watchID, b)
	return nil
}

func (m *MemoryBaselines) Delete(_ context.Context, watchID string) error {
	m.cache.Remove(watchID)
	return nil
}

func (m *MemoryBaselines) Len() int { return m.cache.Len() }
