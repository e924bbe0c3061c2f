// Package intel is the analysis service: it runs every request through the
// tier gate, the cascade engine and usage accounting.
package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/cascade"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/predict"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

const (
	tracerName = "github.com/azrilxx/tradenestkgsb-sub002/internal/intel"

	// FreeFactorLimit caps connected factors returned to free-tier callers.
	FreeFactorLimit = 5
)

// Observer receives every completed, untruncated snapshot.
type Observer interface {
	Observe(alertID string, snap contracts.IntelligenceSnapshot)
}

type WebhookStore interface {
	CreateWebhook(ctx context.Context, w contracts.WebhookSubscription) (contracts.WebhookSubscription, error)
	ListWebhooks(ctx context.Context, userID string) ([]contracts.WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, userID, id string) error
}

type BatchLimits struct {
	MaxSize   int
	ChunkSize int
}

func DefaultBatchLimits() BatchLimits {
	return BatchLimits{MaxSize: 50, ChunkSize: 10}
}

type Service struct {
	engine    *cascade.Engine
	gate      *tier.Gate
	webhooks  WebhookStore
	predictor predict.Predictor
	observer  Observer
	batch     BatchLimits
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithPredictor(p predict.Predictor) Option {
	return func(s *Service) { s.predictor = p }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithBatchLimits(l BatchLimits) Option {
	return func(s *Service) {
		if l.MaxSize > 0 {
			s.batch.MaxSize = l.MaxSize
		}
		if l.ChunkSize > 0 {
			s.batch.ChunkSize = l.ChunkSize
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(engine *cascade.Engine, gate *tier.Gate, webhooks WebhookStore, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		gate:      gate,
		webhooks:  webhooks,
		predictor: predict.Heuristic{},
		batch:     DefaultBatchLimits(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalysisResult is a snapshot shaped for the caller's tier.
type AnalysisResult struct {
	contracts.IntelligenceSnapshot
	Tier                  contracts.Tier `json:"tier"`
	WindowClamped         bool           `json:"window_clamped,omitempty"`
	RequestedTimeWindow   int            `json:"requested_time_window,omitempty"`
	TotalFactorsAvailable int            `json:"total_factors_available,omitempty"`
	UpgradeHint           string         `json:"upgrade_hint,omitempty"`
}

// Analyze runs the pipeline for one alert on behalf of userID.
func (s *Service) Analyze(ctx context.Context, userID, alertID string, windowDays int) (AnalysisResult, error) {
	ctx, span := s.tracer.Start(ctx, "intel.Analyze", trace.WithAttributes(
		attribute.String("alert_id", alertID),
		attribute.Int("requested_window_days", windowDays),
	))
	defer span.End()

	res, err := s.analyze(ctx, userID, alertID, windowDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) analyze(ctx context.Context, userID, alertID string, windowDays int) (AnalysisResult, error) {
	if err := requireCaller(userID); err != nil {
		return AnalysisResult{}, err
	}
	if alertID == "" {
		return AnalysisResult{}, apperr.Invalid("alert_id", "is required")
	}
	if windowDays < 0 {
		return AnalysisResult{}, apperr.Invalid("time_window", "must not be negative")
	}

	d, err := s.admit(ctx, userID, windowDays)
	if err != nil {
		return AnalysisResult{}, err
	}

	snap, err := s.run(ctx, d.Subscription, alertID, d.EffectiveWindow, contracts.AnalysisSingle)
	if err != nil {
		return AnalysisResult{}, err
	}
	s.record(ctx, d, alertID, contracts.AnalysisSingle)
	return shape(snap, d), nil
}

// Predict adds the forward-looking estimate to a fresh snapshot. Enterprise only.
func (s *Service) Predict(ctx context.Context, userID, alertID string, windowDays int) (contracts.Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "intel.Predict", trace.WithAttributes(attribute.String("alert_id", alertID)))
	defer span.End()

	p, err := s.predict(ctx, userID, alertID, windowDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (s *Service) predict(ctx context.Context, userID, alertID string, windowDays int) (contracts.Prediction, error) {
	if err := requireCaller(userID); err != nil {
		return contracts.Prediction{}, err
	}
	if alertID == "" {
		return contracts.Prediction{}, apperr.Invalid("alert_id", "is required")
	}
	if windowDays < 0 {
		return contracts.Prediction{}, apperr.Invalid("time_window", "must not be negative")
	}
	sub, err := s.gate.Resolve(ctx, userID)
	if err != nil {
		return contracts.Prediction{}, err
	}
	if err := tier.Require(sub, tier.FeaturePredictions); err != nil {
		return contracts.Prediction{}, err
	}

	d, err := s.admit(ctx, userID, windowDays)
	if err != nil {
		return contracts.Prediction{}, err
	}
	snap, err := s.run(ctx, d.Subscription, alertID, d.EffectiveWindow, contracts.AnalysisPrediction)
	if err != nil {
		return contracts.Prediction{}, err
	}
	s.record(ctx, d, alertID, contracts.AnalysisPrediction)
	return s.predictor.Predict(snap), nil
}

// Usage reports the caller's quota position for the current month.
type Usage struct {
	Tier              contracts.Tier `json:"tier"`
	Used              int            `json:"used"`
	Limit             int            `json:"limit"`
	Remaining         int            `json:"remaining"`
	Unlimited         bool           `json:"unlimited"`
	MaxTimeWindowDays int            `json:"max_time_window_days"`
	PeriodStart       time.Time      `json:"period_start"`
}

func (s *Service) Usage(ctx context.Context, userID string) (Usage, error) {
	if err := requireCaller(userID); err != nil {
		return Usage{}, err
	}
	sub, err := s.gate.Resolve(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	used, err := s.gate.Used(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{
		Tier:              sub.Tier,
		Used:              used,
		Limit:             sub.UsageLimits.AnalysesPerMonth,
		MaxTimeWindowDays: sub.UsageLimits.MaxTimeWindowDays,
		PeriodStart:       tier.MonthStart(s.gate.Now()),
	}
	if u.Limit <= 0 {
		u.Unlimited = true
		u.Limit = 0
	} else {
		u.Remaining = max(u.Limit-used, 0)
	}
	return u, nil
}

// WatchGrant is what a caller may watch with.
type WatchGrant struct {
	WindowDays int
	Tier       contracts.Tier
}

// Watch resolves the window a standing watch runs with. Watches are not
// charged against the quota; the window is clamped to the tier.
func (s *Service) Watch(ctx context.Context, userID string, windowDays int) (WatchGrant, error) {
	if err := requireCaller(userID); err != nil {
		return WatchGrant{}, err
	}
	if windowDays < 0 {
		return WatchGrant{}, apperr.Invalid("time_window", "must not be negative")
	}
	sub, err := s.gate.Resolve(ctx, userID)
	if err != nil {
		return WatchGrant{}, err
	}
	window, _ := s.gate.ClampWindow(sub, windowDays)
	return WatchGrant{WindowDays: window, Tier: sub.Tier}, nil
}

func (s *Service) admit(ctx context.Context, userID string, windowDays int) (tier.Decision, error) {
	d, err := s.gate.Admit(ctx, userID, windowDays)
	if err != nil {
		var limitErr *apperr.LimitError
		if errors.As(err, &limitErr) {
			s.metrics.QuotaRejected(string(limitErr.Tier))
			s.logger.Info("analysis quota exhausted",
				zap.String("user_id", userID),
				zap.String("tier", string(limitErr.Tier)),
				zap.Int("used", limitErr.Used))
		}
		return d, err
	}
	if d.Clamped {
		s.logger.Debug("time window clamped",
			zap.String("user_id", userID),
			zap.Int("requested", d.RequestedWindow),
			zap.Int("effective", d.EffectiveWindow))
	}
	return d, nil
}

// run executes the pipeline and feeds the full snapshot to the observer.
func (s *Service) run(ctx context.Context, sub contracts.Subscription, alertID string, windowDays int, kind contracts.AnalysisType) (contracts.IntelligenceSnapshot, error) {
	started := time.Now()
	snap, err := s.engine.Analyze(ctx, alertID, windowDays)
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	}
	s.metrics.ObserveAnalysis(string(sub.Tier), outcome, string(kind), time.Since(started))
	if err != nil {
		if apperr.IsTransient(err) {
			s.logger.Warn("analysis failed",
				zap.String("alert_id", alertID),
				zap.Error(err))
		}
		return contracts.IntelligenceSnapshot{}, err
	}
	if s.observer != nil {
		s.observer.Observe(alertID, snap)
	}
	return snap, nil
}

// record charges one analysis. A failed write is logged and does not fail
// the analysis that already completed.
func (s *Service) record(ctx context.Context, d tier.Decision, alertID string, kind contracts.AnalysisType) {
	rec := contracts.UsageRecord{
		UserID:       d.Subscription.UserID,
		AlertID:      alertID,
		AnalysisType: kind,
		TimeWindow:   d.EffectiveWindow,
		Metadata: map[string]string{
			"tier":                  string(d.Subscription.Tier),
			"requested_time_window": fmt.Sprint(d.RequestedWindow),
		},
	}
	if err := s.gate.Record(ctx, rec); err != nil {
		s.logger.Error("usage record failed",
			zap.String("user_id", rec.UserID),
			zap.String("alert_id", alertID),
			zap.Error(err))
	}
}

// shape applies free-tier truncation after synthesis, so impact and risk
// still describe the whole graph.
func shape(snap contracts.IntelligenceSnapshot, d tier.Decision) AnalysisResult {
	res := AnalysisResult{
		IntelligenceSnapshot: snap,
		Tier:                 d.Subscription.Tier,
		WindowClamped:        d.Clamped,
	}
	if d.Clamped {
		res.RequestedTimeWindow = d.RequestedWindow
	}
	if d.Subscription.Tier == contracts.TierFree && len(snap.ConnectedFactors) > FreeFactorLimit {
		res.TotalFactorsAvailable = len(snap.ConnectedFactors)
		res.ConnectedFactors = append([]contracts.ConnectedFactor(nil), snap.ConnectedFactors[:FreeFactorLimit]...)
		res.UpgradeHint = fmt.Sprintf("Showing %d of %d connected factors. %s",
			FreeFactorLimit, len(snap.ConnectedFactors), tier.UpgradeMessage(contracts.TierFree))
	}
	return res
}

func requireCaller(userID string) error {
	if userID == "" {
		return fmt.Errorf("caller identity missing: %w", apperr.ErrUnauthorized)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.IsNotFound(err):
		return "not_found"
	case apperr.IsTransient(err):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
