package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	anomalies map[string]contracts.Anomaly
	listErr   error
}

func newFakeSource(list ...contracts.Anomaly) *fakeSource {
	s := &fakeSource{anomalies: make(map[string]contracts.Anomaly)}
	for _, a := range list {
		s.anomalies[a.ID] = a
	}
	return s
}

func (s *fakeSource) GetAnomaly(_ context.Context, id string) (contracts.Anomaly, error) {
	a, ok := s.anomalies[id]
	if !ok {
		return contracts.Anomaly{}, apperr.NotFound("alert", id)
	}
	return a, nil
}

func (s *fakeSource) ListAnomaliesBetween(_ context.Context, _, _ time.Time) ([]contracts.Anomaly, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]contracts.Anomaly, 0, len(s.anomalies))
	for _, a := range s.anomalies {
		out = append(out, a)
	}
	return out, nil
}

func anomaly(id string, typ contracts.AnomalyType, sev contracts.Severity, age time.Duration, ents contracts.Entities) contracts.Anomaly {
	return contracts.Anomaly{ID: id, Type: typ, Severity: sev, Timestamp: testNow.Add(-age), Entities: ents}
}

func newTestEngine(src AnomalySource, params Params) *Engine {
	return NewEngine(src, params, WithClock(func() time.Time { return testNow }))
}

const day = 24 * time.Hour

func TestAnalyzeCorrelatedAndOutOfWindow(t *testing.T) {
	src := newFakeSource(
		anomaly("A", contracts.TypePriceSpike, contracts.SeverityHigh, day, contracts.Entities{Product: "palm-oil"}),
		anomaly("B", contracts.TypeFreightSurge, contracts.SeverityCritical, 2*day, contracts.Entities{Product: "palm-oil"}),
		anomaly("C", contracts.TypeTariffChange, contracts.SeverityLow, 40*day, contracts.Entities{}),
	)

	snap, err := newTestEngine(src, DefaultParams()).Analyze(context.Background(), "A", 30)
	require.NoError(t, err)

	ids := snap.FactorIDs()
	assert.Contains(t, ids, "B")
	assert.NotContains(t, ids, "C")
	assert.True(t, snap.ImpactCascade.AffectedSupplyChain)
	assert.Equal(t, 30, snap.TimeWindowDays)

	var critical bool
	for _, rf := range snap.RiskAssessment.RiskFactors {
		if strings.Contains(rf, "critical-severity") {
			critical = true
		}
	}
	assert.True(t, critical, "risk factors: %v", snap.RiskAssessment.RiskFactors)
	assert.Contains(t, snap.RecommendedActions, ActionCriticalFirst)
	assert.Contains(t, snap.RecommendedActions, ActionLogistics)
}

func TestAnalyzeNoAnomaliesInWindow(t *testing.T) {
	src := newFakeSource(
		anomaly("A", contracts.TypePriceSpike, contracts.SeverityHigh, day, contracts.Entities{Product: "rubber"}),
	)

	snap, err := newTestEngine(src, DefaultParams()).Analyze(context.Background(), "A", 30)
	require.NoError(t, err)

	assert.NotNil(t, snap.ConnectedFactors)
	assert.Empty(t, snap.ConnectedFactors)
	assert.Equal(t, 0.0, snap.ImpactCascade.CascadingImpact)
	assert.False(t, snap.ImpactCascade.AffectedSupplyChain)
	assert.NotNil(t, snap.RiskAssessment.RiskFactors)
	assert.Empty(t, snap.RiskAssessment.RiskFactors)
	assert.Equal(t, contracts.StatusStable, snap.ImpactCascade.Status)
}

func TestAnalyzeBoundedForLargeFanOut(t *testing.T) {
	list := []contracts.Anomaly{
		anomaly("P", contracts.TypeFreightSurge, contracts.SeverityCritical, 0, contracts.Entities{Product: "steel", Country: "MY"}),
	}
	for i := 0; i < 200; i++ {
		list = append(list, anomaly(fmt.Sprintf("n%03d", i), contracts.TypeFreightSurge, contracts.SeverityCritical,
			time.Duration(i)*time.Hour, contracts.Entities{Product: "steel", Country: "MY"}))
	}

	snap, err := newTestEngine(newFakeSource(list...), DefaultParams()).Analyze(context.Background(), "P", 30)
	require.NoError(t, err)

	assert.Len(t, snap.ConnectedFactors, 200)
	assert.LessOrEqual(t, snap.ImpactCascade.CascadingImpact, 100.0)
	assert.GreaterOrEqual(t, snap.ImpactCascade.CascadingImpact, 0.0)
	assert.LessOrEqual(t, snap.RiskAssessment.OverallRisk, 100.0)
	assert.Equal(t, contracts.PriorityCritical, snap.RiskAssessment.MitigationPriority)
	assert.Equal(t, contracts.StatusCascading, snap.ImpactCascade.Status)
	assert.Len(t, snap.RiskAssessment.RiskFactors, 4)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	src := newFakeSource(
		anomaly("A", contracts.TypePriceSpike, contracts.SeverityMedium, day, contracts.Entities{Product: "cocoa", Country: "GH"}),
		anomaly("B", contracts.TypeFreightSurge, contracts.SeverityHigh, 3*day, contracts.Entities{Product: "cocoa"}),
		anomaly("D", contracts.TypeFXVolatility, contracts.SeverityLow, 2*day, contracts.Entities{Country: "GH"}),
		anomaly("E", contracts.TypePriceSpike, contracts.SeverityCritical, 5*day, contracts.Entities{Product: "cocoa"}),
	)
	engine := newTestEngine(src, DefaultParams())

	first, err := engine.Analyze(context.Background(), "A", 30)
	require.NoError(t, err)
	second, err := engine.Analyze(context.Background(), "A", 30)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPropagateSecondHop(t *testing.T) {
	src := newFakeSource(
		anomaly("P", contracts.TypePriceSpike, contracts.SeverityHigh, 0, contracts.Entities{Product: "X"}),
		anomaly("M", contracts.TypeFreightSurge, contracts.SeverityMedium, 0, contracts.Entities{Product: "X", Company: "Y", Country: "Z"}),
		anomaly("Q", contracts.TypeCustom, contracts.SeverityLow, 0, contracts.Entities{Company: "Y", Country: "Z"}),
	)

	snap, err := newTestEngine(src, DefaultParams()).Analyze(context.Background(), "P", 30)
	require.NoError(t, err)
	require.Len(t, snap.ConnectedFactors, 2)

	m, q := snap.ConnectedFactors[0], snap.ConnectedFactors[1]
	assert.Equal(t, "M", m.ID)
	assert.Equal(t, 1, m.Hop)
	assert.Equal(t, "Q", q.ID)
	assert.Equal(t, 2, q.Hop)
	assert.Equal(t, "M", q.Via)
	assert.Less(t, q.CorrelationScore, m.CorrelationScore)
	assert.InDelta(t, 0.476, q.CorrelationScore, 0.0001)

	oneHop := DefaultParams()
	oneHop.MaxHops = 1
	snap, err = newTestEngine(src, oneHop).Analyze(context.Background(), "P", 30)
	require.NoError(t, err)
	assert.NotContains(t, snap.FactorIDs(), "Q")
}

func TestPropagateVisitsEachNodeOnce(t *testing.T) {
	ents := contracts.Entities{Product: "tin", Company: "acme"}
	src := newFakeSource(
		anomaly("P", contracts.TypeTariffChange, contracts.SeverityHigh, 0, ents),
		anomaly("a", contracts.TypeTariffChange, contracts.SeverityHigh, time.Hour, ents),
		anomaly("b", contracts.TypeTariffChange, contracts.SeverityHigh, 2*time.Hour, ents),
		anomaly("c", contracts.TypeTariffChange, contracts.SeverityHigh, 3*time.Hour, ents),
	)
	params := DefaultParams()
	params.MaxHops = 3

	snap, err := newTestEngine(src, params).Analyze(context.Background(), "P", 30)
	require.NoError(t, err)

	assert.Len(t, snap.ConnectedFactors, 3)
	for _, f := range snap.ConnectedFactors {
		assert.Equal(t, 1, f.Hop)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	src := newFakeSource(anomaly("A", contracts.TypePriceSpike, contracts.SeverityHigh, 0, contracts.Entities{}))
	engine := newTestEngine(src, DefaultParams())

	_, err := engine.Analyze(context.Background(), "missing", 30)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	src.listErr = errors.New("connection refused")
	_, err = engine.Analyze(context.Background(), "A", 30)
	assert.True(t, apperr.IsTransient(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestTypeSimilarity(t *testing.T) {
	tests := []struct {
		a, b contracts.AnomalyType
		want float64
	}{
		{contracts.TypePriceSpike, contracts.TypePriceSpike, 1.0},
		{contracts.TypeFXVolatility, contracts.TypeFreightSurge, 0.6},
		{contracts.TypeFreightSurge, contracts.TypeFXVolatility, 0.6},
		{contracts.TypeTariffChange, contracts.TypeFXVolatility, 0.2},
		{contracts.TypeCustom, contracts.TypePriceSpike, 0.2},
	}
	for _, tt := range tests {
		t.Run(string(tt.a)+"/"+string(tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, typeSimilarity(tt.a, tt.b))
		})
	}
}

func TestPriorityBuckets(t *testing.T) {
	assert.Equal(t, contracts.PriorityCritical, priorityFor(80))
	assert.Equal(t, contracts.PriorityHigh, priorityFor(79.99))
	assert.Equal(t, contracts.PriorityHigh, priorityFor(60))
	assert.Equal(t, contracts.PriorityMedium, priorityFor(40))
	assert.Equal(t, contracts.PriorityLow, priorityFor(39.9))
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.HopDecay = 1
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.RelevanceFloor = 1.5
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.MaxHops = 0
	assert.Error(t, p.Validate())
}
