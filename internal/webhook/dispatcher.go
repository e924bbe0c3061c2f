// Package webhook pushes update events to the enterprise webhook
// subscriptions that cover them. Delivery is at-most-MaxAttempts, not
// exactly-once.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
)

var (
	ErrQueueFull = errors.New("webhook queue full")
	ErrStopped   = errors.New("webhook dispatcher stopped")
)

const (
	HeaderSignature = "X-Intel-Signature"
	HeaderEventID   = "X-Intel-Event-ID"
	HeaderWebhookID = "X-Intel-Webhook-ID"
	HeaderTimestamp = "X-Intel-Timestamp"
)

// ActiveWebhooks is the read side of the webhook subscription store.
type ActiveWebhooks interface {
	ListActiveWebhooks(ctx context.Context) ([]contracts.WebhookSubscription, error)
}

type Config struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// SigningSecret, when set, signs every body with HMAC-SHA256.
	SigningSecret string
	HTTPClient    *http.Client
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    1000,
		Timeout:      10 * time.Second,
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

type delivery struct {
	sub     contracts.WebhookSubscription
	payload contracts.WebhookPayload
	eventID string
}

type Dispatcher struct {
	store   ActiveWebhooks
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue chan delivery
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewDispatcher(store ActiveWebhooks, cfg Config, logger *zap.Logger, mt *metrics.Metrics) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		cfg:     cfg,
		client:  client,
		logger:  logger,
		metrics: mt,
		queue:   make(chan delivery, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("webhook dispatcher started", zap.Int("workers", d.cfg.Workers))
}

// Stop drops queued deliveries and waits for in-flight ones.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case job := <-d.queue:
			d.deliverWithRetry(job)
		}
	}
}

// Publish fans e out to every active subscription that covers it. It lets
// the dispatcher act as a monitor sink.
func (d *Dispatcher) Publish(ctx context.Context, e contracts.UpdateEvent) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}

	subs, err := d.store.ListActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("list webhook subscriptions: %w", err)
	}

	payload := contracts.NewWebhookPayload(e)
	var dropped int
	for _, sub := range subs {
		if !Matches(sub, e) {
			continue
		}
		select {
		case d.queue <- delivery{sub: sub, payload: payload, eventID: e.ID}:
		default:
			dropped++
			d.metrics.WebhookDelivery("dropped")
		}
	}
	if dropped > 0 {
		d.logger.Warn("webhook deliveries dropped",
			zap.String("alert_id", e.AlertID),
			zap.Int("dropped", dropped))
		return ErrQueueFull
	}
	return nil
}

// Matches reports whether sub wants e.
func Matches(sub contracts.WebhookSubscription, e contracts.UpdateEvent) bool {
	if !sub.IsActive || !sub.Covers(e.AlertID) {
		return false
	}
	if len(sub.Filters.UpdateTypes) > 0 {
		wanted := false
		for _, t := range sub.Filters.UpdateTypes {
			if t == e.Type {
				wanted = true
				break
			}
		}
		if !wanted {
			return false
		}
	}
	if sub.Filters.MinOverallRisk > 0 {
		risk, ok := number(e.Data["overall_risk"])
		if !ok || risk < sub.Filters.MinOverallRisk {
			return false
		}
	}
	if window, ok := number(e.Data["time_window"]); ok && sub.TimeWindow > 0 && int(window) != sub.TimeWindow {
		return false
	}
	return true
}

func (d *Dispatcher) deliverWithRetry(job delivery) {
	body, err := json.Marshal(job.payload)
	if err != nil {
		d.metrics.WebhookDelivery("failed")
		d.logger.Error("encode webhook payload", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		status, err := d.deliver(job, body)
		if err == nil && status >= 200 && status < 300 {
			d.metrics.WebhookDelivery("delivered")
			d.logger.Debug("webhook delivered",
				zap.String("webhook_id", job.sub.ID),
				zap.String("event_id", job.eventID),
				zap.Int("attempts", attempt))
			return
		}
		if attempt == d.cfg.MaxAttempts || !retryable(status, err) {
			d.metrics.WebhookDelivery("failed")
			d.logger.Warn("webhook delivery failed",
				zap.String("webhook_id", job.sub.ID),
				zap.String("event_id", job.eventID),
				zap.Int("status", status),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		select {
		case <-d.done:
			return
		case <-time.After(d.backoff(attempt)):
		}
	}
}

func (d *Dispatcher) deliver(job delivery, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "intel-webhooks/1.0")
	req.Header.Set(HeaderWebhookID, job.sub.ID)
	req.Header.Set(HeaderEventID, job.eventID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if d.cfg.SigningSecret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(body, d.cfg.SigningSecret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(d.cfg.InitialDelay) * math.Pow(2, float64(attempt-1)))
	return min(delay, d.cfg.MaxDelay)
}

func retryable(status int, err error) bool {
	if err != nil {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign, with or without the sha256= prefix.
func Verify(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
