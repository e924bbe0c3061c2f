// Package monitor re-runs the cascade pipeline for watched alerts on an
// interval, diffs each result against the previous one and emits typed
// update events. A separate scanner flags recent alerts above the risk
// threshold.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
)

var ErrClosed = errors.New("monitor closed")

// Analyzer runs the full pipeline. *cascade.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, alertID string, windowDays int) (contracts.IntelligenceSnapshot, error)
}

type Config struct {
	Interval      time.Duration
	CascadeDelta  float64
	RiskThreshold float64
	ScanInterval  time.Duration
	ScanLimit     int
	EventBuffer   int
	WindowDays    int
}

func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		CascadeDelta:  5,
		RiskThreshold: 80,
		ScanInterval:  60 * time.Second,
		ScanLimit:     20,
		EventBuffer:   32,
		WindowDays:    30,
	}
}

type Manager struct {
	analyzer  Analyzer
	baselines BaselineStore
	cfg       Config
	sinks     []Sink
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	closed  bool
	watches map[string]*Watch
}

type Option func(*Manager)

func WithSinks(sinks ...Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sinks...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(analyzer Analyzer, baselines BaselineStore, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if baselines == nil {
		baselines = NewMemoryBaselines(0, 0)
	}
	m := &Manager{
		analyzer:  analyzer,
		baselines: baselines,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
		watches:   make(map[string]*Watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch is a cancellable per-alert polling subscription.
type Watch struct {
	id         string
	alertID    string
	windowDays int

	events chan contracts.UpdateEvent
	inbox  chan contracts.IntelligenceSnapshot
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	m *Manager
}

func (w *Watch) ID() string      { return w.id }
func (w *Watch) AlertID() string { return w.alertID }
func (w *Watch) WindowDays() int { return w.windowDays }

// Events is closed after the watch stops.
func (w *Watch) Events() <-chan contracts.UpdateEvent { return w.events }

// Done is closed once the polling goroutine has exited.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Stop ends the interval immediately. An analysis already running finishes
// and is the last one compared.
func (w *Watch) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.m.forget(w)
	})
}

// Watch runs a baseline analysis and starts polling alertID. The baseline
// error, such as an unknown alert, is returned and no watch is started.
func (m *Manager) Watch(ctx context.Context, alertID string, windowDays int) (*Watch, error) {
	if windowDays <= 0 {
		windowDays = m.cfg.WindowDays
	}
	snap, err := m.analyzer.Analyze(ctx, alertID, windowDays)
	if err != nil {
		return nil, err
	}

	w := &Watch{
		id:         uuid.NewString(),
		alertID:    alertID,
		windowDays: windowDays,
		events:     make(chan contracts.UpdateEvent, m.cfg.EventBuffer),
		inbox:      make(chan contracts.IntelligenceSnapshot, 4),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		m:          m,
	}
	if err := m.baselines.Put(ctx, w.id, m.baselineOf(snap)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = m.baselines.Delete(ctx, w.id)
		return nil, ErrClosed
	}
	m.watches[w.id] = w
	m.mu.Unlock()

	m.metrics.WatchStarted()
	m.logger.Info("watch started",
		zap.String("watch_id", w.id),
		zap.String("alert_id", alertID),
		zap.Int("window_days", windowDays))

	go w.loop()
	return w, nil
}

// Observe feeds a snapshot computed elsewhere to every watch of alertID
// running with the same window. A watch whose inbox is full skips it; its
// next tick catches up.
func (m *Manager) Observe(alertID string, snap contracts.IntelligenceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watches {
		if w.alertID != alertID || w.windowDays != snap.TimeWindowDays {
			continue
		}
		select {
		case w.inbox <- snap:
		default:
		}
	}
}

// Watches returns the running watches.
func (m *Manager) Watches() []*Watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, w)
	}
	return out
}

// Close stops every watch and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	watches := make([]*Watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.Stop()
		<-w.Done()
	}
}

func (m *Manager) forget(w *Watch) {
	m.mu.Lock()
	_, ok := m.watches[w.id]
	delete(m.watches, w.id)
	m.mu.Unlock()
	if ok {
		m.metrics.WatchStopped()
	}
}

func (w *Watch) loop() {
	m := w.m
	ticker := time.NewTicker(m.cfg.Interval)
	defer func() {
		ticker.Stop()
		_ = m.baselines.Delete(context.Background(), w.id)
		close(w.events)
		close(w.done)
		m.logger.Info("watch stopped", zap.String("watch_id", w.id), zap.String("alert_id", w.alertID))
	}()

	for {
		select {
		case <-w.stop:
			return
		case snap := <-w.inbox:
			w.compare(snap)
		case <-ticker.C:
			// select picks randomly among ready cases; Stop wins over a
			// pending tick.
			select {
			case <-w.stop:
				return
			default:
			}
			// The tick is not bound to Stop: an in-flight analysis completes.
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
			snap, err := m.analyzer.Analyze(ctx, w.alertID, w.windowDays)
			cancel()
			if err != nil {
				m.logger.Warn("watch tick skipped",
					zap.String("watch_id", w.id),
					zap.String("alert_id", w.alertID),
					zap.Error(err))
				continue
			}
			w.compare(snap)
		}
	}
}

func (w *Watch) compare(snap contracts.IntelligenceSnapshot) {
	m := w.m
	ctx := context.Background()

	prev, ok, err := m.baselines.Get(ctx, w.id)
	if err != nil {
		m.logger.Warn("baseline read failed", zap.String("watch_id", w.id), zap.Error(err))
		return
	}
	if !ok {
		// Expired or evicted: start over from this snapshot.
		if err := m.baselines.Put(ctx, w.id, m.baselineOf(snap)); err != nil {
			m.logger.Warn("baseline write failed", zap.String("watch_id", w.id), zap.Error(err))
		}
		return
	}

	next, events := Diff(prev, snap, m.cfg.CascadeDelta, m.cfg.RiskThreshold)
	next.UpdatedAt = m.now().UTC()
	if err := m.baselines.Put(ctx, w.id, next); err != nil {
		m.logger.Warn("baseline write failed", zap.String("watch_id", w.id), zap.Error(err))
	}

	for _, e := range events {
		e.ID = uuid.NewString()
		e.AlertID = w.alertID
		e.Timestamp = m.now().UTC()
		e.Data["time_window"] = w.windowDays
		w.emit(e)
	}
}

func (w *Watch) emit(e contracts.UpdateEvent) {
	m := w.m
	m.metrics.MonitorEvent(string(e.Type))
	select {
	case w.events <- e:
	default:
		m.logger.Warn("watch event dropped, consumer too slow",
			zap.String("watch_id", w.id),
			zap.String("type", string(e.Type)))
	}
	m.publish(e)
}

func (m *Manager) publish(e contracts.UpdateEvent) {
	for _, s := range m.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Publish(ctx, e); err != nil {
			m.logger.Warn("publish update event failed",
				zap.String("alert_id", e.AlertID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

func (m *Manager) baselineOf(snap contracts.IntelligenceSnapshot) Baseline {
	return Baseline{
		CascadingImpact: snap.ImpactCascade.CascadingImpact,
		OverallRisk:     snap.RiskAssessment.OverallRisk,
		FactorIDs:       sortedIDs(snap),
		UpdatedAt:       m.now().UTC(),
	}
}
