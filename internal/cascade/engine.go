package cascade

import (
	"context"
	"time"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// Engine runs builder, propagator and synthesizer in sequence.
type Engine struct {
	builder *Builder
	params  Params
}

type Option func(*engineOptions)

type engineOptions struct {
	now func() time.Time
}

// WithClock overrides the clock that anchors the time window.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

func NewEngine(source AnomalySource, params Params, opts ...Option) *Engine {
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		builder: NewBuilder(source, params, o.now),
		params:  params,
	}
}

func (e *Engine) Params() Params { return e.params }

// Analyze computes the snapshot for alertID over the last windowDays. The
// window must already be clamped by the caller.
func (e *Engine) Analyze(ctx context.Context, alertID string, windowDays int) (contracts.IntelligenceSnapshot, error) {
	g, err := e.builder.Build(ctx, alertID, windowDays)
	if err != nil {
		return contracts.IntelligenceSnapshot{}, err
	}

	snap := e.params.Synthesize(g.Primary, e.params.Propagate(g))
	snap.TimeWindowDays = windowDays
	return snap, nil
}
