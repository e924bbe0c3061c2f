package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
)

type RecentAlerts interface {
	RecentAlertIDs(ctx context.Context, limit int) ([]string, error)
}

// Scanner periodically re-analyzes the most recent alerts and emits
// risk_change for every one above the threshold, independent of watches.
type Scanner struct {
	alerts   RecentAlerts
	analyzer Analyzer
	cfg      Config
	sinks    []Sink
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type ScannerOption func(*Scanner)

func ScanTo(sinks ...Sink) ScannerOption {
	return func(s *Scanner) { s.sinks = append(s.sinks, sinks...) }
}

func ScanLogger(l *zap.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

func ScanMetrics(mt *metrics.Metrics) ScannerOption {
	return func(s *Scanner) { s.metrics = mt }
}

func ScanClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

func NewScanner(alerts RecentAlerts, analyzer Analyzer, cfg Config, opts ...ScannerOption) *Scanner {
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = def.ScanLimit
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	s := &Scanner{
		alerts:   alerts,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans immediately and then every ScanInterval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("risk scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce analyzes the latest ScanLimit alerts. Per-alert failures are
// logged and skipped.
func (s *Scanner) ScanOnce(ctx context.Context) ([]contracts.UpdateEvent, error) {
	ids, err := s.alerts.RecentAlertIDs(ctx, s.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}

	var events []contracts.UpdateEvent
	for _, id := range ids {
		if ctx.Err() != nil {
			return events, ctx.Err()
		}
		snap, err := s.analyzer.Analyze(ctx, id, s.cfg.WindowDays)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("risk scan skipped alert", zap.String("alert_id", id), zap.Error(err))
			}
			continue
		}
		if snap.RiskAssessment.OverallRisk <= s.cfg.RiskThreshold {
			continue
		}

		e := contracts.UpdateEvent{
			ID:        uuid.NewString(),
			Type:      contracts.UpdateRiskChange,
			AlertID:   id,
			Timestamp: s.now().UTC(),
			Data:      riskData(snap, s.cfg.RiskThreshold, map[string]any{"source": "scan"}),
		}
		s.metrics.MonitorEvent(string(e.Type))
		for _, sink := range s.sinks {
			if err := sink.Publish(ctx, e); err != nil {
				s.logger.Warn("publish scan event failed", zap.String("alert_id", id), zap.Error(err))
			}
		}
		events = append(events, e)
	}
	s.logger.Debug("risk scan finished", zap.Int("scanned", len(ids)), zap.Int("flagged", len(events)))
	return events, nil
}
