package cascade

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// AnomalySource is the read side of the anomaly store.
type AnomalySource interface {
	GetAnomaly(ctx context.Context, id string) (contracts.Anomaly, error)
	ListAnomaliesBetween(ctx context.Context, from, to time.Time) ([]contracts.Anomaly, error)
}

type Edge struct {
	Anomaly contracts.Anomaly
	Score   float64
}

// Graph is the primary node, its direct edges and the full candidate pool
// that later hops draw from.
type Graph struct {
	Primary    contracts.Anomaly
	Window     time.Duration
	Candidates []contracts.Anomaly
	Direct     []Edge
}

type Builder struct {
	source AnomalySource
	params Params
	now    func() time.Time
}

func NewBuilder(source AnomalySource, params Params, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{source: source, params: params, now: now}
}

func (b *Builder) Build(ctx context.Context, primaryID string, windowDays int) (Graph, error) {
	primary, err := b.source.GetAnomaly(ctx, primaryID)
	if err != nil {
		return Graph{}, classify("load primary alert", err)
	}

	window := time.Duration(windowDays) * 24 * time.Hour
	to := b.now().UTC()
	from := to.Add(-window)

	found, err := b.source.ListAnomaliesBetween(ctx, from, to)
	if err != nil {
		return Graph{}, classify("list anomalies in window", err)
	}

	candidates := make([]contracts.Anomaly, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, a := range found {
		if a.ID == primary.ID || a.Timestamp.Before(from) || a.Timestamp.After(to) {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	g := Graph{Primary: primary, Window: window, Candidates: candidates}
	for _, c := range candidates {
		score := b.params.Pairwise(primary, c, window)
		if score < b.params.RelevanceFloor {
			continue
		}
		g.Direct = append(g.Direct, Edge{Anomaly: c, Score: score})
	}

	return g, nil
}

// Pairwise scores the correlation between two anomalies in [0,1].
func (p Params) Pairwise(a, b contracts.Anomaly, window time.Duration) float64 {
	score := p.TypeWeight*typeSimilarity(a.Type, b.Type) +
		p.TemporalWeight*temporalProximity(a.Timestamp, b.Timestamp, window) +
		p.EntityWeight*entityOverlap(a.Entities, b.Entities)
	return round4(clamp(score, 0, 1))
}

var relatedTypes = map[[2]contracts.AnomalyType]bool{
	{contracts.TypePriceSpike, contracts.TypeFreightSurge}:   true,
	{contracts.TypePriceSpike, contracts.TypeTariffChange}:   true,
	{contracts.TypePriceSpike, contracts.TypeFXVolatility}:   true,
	{contracts.TypeFXVolatility, contracts.TypeFreightSurge}: true,
	{contracts.TypeTariffChange, contracts.TypeFreightSurge}: true,
}

func typeSimilarity(a, b contracts.AnomalyType) float64 {
	switch {
	case a == b:
		return 1.0
	case relatedTypes[[2]contracts.AnomalyType{a, b}] || relatedTypes[[2]contracts.AnomalyType{b, a}]:
		return 0.6
	default:
		return 0.2
	}
}

func temporalProximity(a, b time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	delta := math.Abs(float64(a.Sub(b)))
	return clamp(1-delta/float64(window), 0, 1)
}

func entityOverlap(a, b contracts.Entities) float64 {
	return clamp(0.5*float64(a.Shared(b)), 0, 1)
}

func classify(op string, err error) error {
	if apperr.IsNotFound(err) || apperr.IsTransient(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Transient(op, err)
}
