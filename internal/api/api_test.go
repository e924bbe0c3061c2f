package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/cascade"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/idempotency"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/ratelimit"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/storage"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type env struct {
	mem     *storage.Memory
	manager *monitor.Manager
	router  http.Handler
}

type option func(*Deps)

func newEnv(t *testing.T, opts ...option) env {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.UpsertSubscription(ctx, contracts.Subscription{UserID: "pro", Tier: contracts.TierProfessional}))
	require.NoError(t, mem.UpsertSubscription(ctx, contracts.Subscription{UserID: "ent", Tier: contracts.TierEnterprise}))
	require.NoError(t, mem.InsertAnomaly(ctx, contracts.Anomaly{
		ID: "A", Type: contracts.TypePriceSpike, Severity: contracts.SeverityHigh,
		Timestamp: testNow.Add(-time.Hour), Entities: contracts.Entities{Product: "palm-oil"},
	}))
	require.NoError(t, mem.InsertAnomaly(ctx, contracts.Anomaly{
		ID: "B", Type: contracts.TypeFreightSurge, Severity: contracts.SeverityMedium,
		Timestamp: testNow.Add(-3 * time.Hour), Entities: contracts.Entities{Product: "palm-oil"},
	}))

	clock := func() time.Time { return testNow }
	engine := cascade.NewEngine(mem, cascade.DefaultParams(), cascade.WithClock(clock))
	gate := tier.NewGate(mem, mem, tier.DefaultCatalog(), tier.WithClock(clock))

	cfg := monitor.DefaultConfig()
	cfg.Interval = time.Hour
	manager := monitor.NewManager(engine, monitor.NewMemoryBaselines(16, time.Hour), cfg)
	t.Cleanup(manager.Close)

	svc := intel.NewService(engine, gate, mem, intel.WithObserver(manager))
	deps := Deps{
		Service:   svc,
		Monitor:   manager,
		Metrics:   metrics.New(),
		Ready:     mem.Ping,
		Heartbeat: time.Hour,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return env{mem: mem, manager: manager, router: NewRouter(deps)}
}

func (e env) do(t *testing.T, method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "", "").Code)

	rec := e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequiresCallerIdentity(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "", `{"alert_id":"A"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[httpx.ErrorBody](t, rec).Code)
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "newcomer", `{"alert_id":"A","time_window":120}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[intel.AnalysisResult](t, rec)
	assert.Equal(t, "A", res.PrimaryAlert.ID)
	assert.Equal(t, contracts.TierFree, res.Tier)
	assert.Equal(t, 30, res.TimeWindowDays)
	assert.True(t, res.WindowClamped)
	require.Len(t, res.ConnectedFactors, 1)
	assert.Equal(t, "B", res.ConnectedFactors[0].ID)

	rec = e.do(t, http.MethodPost, "/v1/intelligence/analyze", "pro", `{"alert_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/intelligence/analyze", "pro", `{"alert":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFreeQuotaExhausted(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 10; i++ {
		rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "newcomer", `{"alert_id":"A"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "newcomer", `{"alert_id":"A"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[httpx.ErrorBody](t, rec)
	assert.Equal(t, "limit_reached", body.Code)
	assert.Equal(t, 10, body.Limit)
	assert.Contains(t, body.UpgradeMessage, "Professional")
}

func TestBatch(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/intelligence/batch", "newcomer", `{"alert_ids":["A"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode[httpx.ErrorBody](t, rec)
	assert.Equal(t, "tier_required", body.Code)
	assert.Equal(t, "professional", body.RequiredTier)

	rec = e.do(t, http.MethodPost, "/v1/intelligence/batch", "pro", `{"alert_ids":["A","nope","B"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[intel.BatchResult](t, rec)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Results, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "nope", res.Errors[0].AlertID)

	rec = e.do(t, http.MethodPost, "/v1/intelligence/batch", "pro", `{"alert_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/intelligence/predict", "pro", `{"alert_id":"A"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "enterprise", decode[httpx.ErrorBody](t, rec).RequiredTier)

	rec = e.do(t, http.MethodPost, "/v1/intelligence/predict", "ent", `{"alert_id":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[contracts.Prediction](t, rec)
	assert.Equal(t, "A", p.AlertID)
	assert.GreaterOrEqual(t, p.EstimatedTimeToCascadeDays, 1)
}

func TestExport(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/v1/intelligence/A/export?format=text", "pro", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "intelligence-A.txt")
	text := rec.Body.String()
	assert.Less(t, strings.Index(text, "PRIMARY ALERT"), strings.Index(text, "RECOMMENDED ACTIONS"))

	rec = e.do(t, http.MethodGet, "/v1/intelligence/A/export", "pro", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[contracts.IntelligenceSnapshot](t, rec)
	assert.Equal(t, "A", snap.PrimaryAlert.ID)

	rec = e.do(t, http.MethodGet, "/v1/intelligence/A/export?format=xml", "pro", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/v1/intelligence/A/export?time_window=abc", "pro", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookLifecycle(t *testing.T) {
	e := newEnv(t)
	payload := `{"alert_ids":["A"],"webhook_url":"https://hooks.example.com/intel","filters":{"update_types":["risk_change"]}}`

	rec := e.do(t, http.MethodPost, "/v1/webhooks", "pro", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/webhooks", "ent", `{"alert_ids":["A"],"webhook_url":"ftp://nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/webhooks", "ent", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[contracts.WebhookSubscription](t, rec)
	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.IsActive)

	rec = e.do(t, http.MethodGet, "/v1/webhooks", "ent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Items []contracts.WebhookSubscription `json:"items"`
	}](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, sub.ID, list.Items[0].ID)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/v1/webhooks/"+sub.ID, "pro", "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/v1/webhooks/"+sub.ID, "ent", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/v1/webhooks/"+sub.ID, "ent", "").Code)
}

func TestUsage(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/v1/intelligence/analyze", "pro", `{"alert_id":"A"}`)

	rec := e.do(t, http.MethodGet, "/v1/usage", "pro", "")
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[intel.Usage](t, rec)
	assert.Equal(t, contracts.TierProfessional, u.Tier)
	assert.Equal(t, 1, u.Used)
	assert.Equal(t, 99, u.Remaining)
	assert.Equal(t, 90, u.MaxTimeWindowDays)
}

func TestIdempotentReplay(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Idempotency = idempotency.NewMemory(64, time.Hour) })
	body := `{"alert_id":"A"}`

	first := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "pro", body, idempotency.HeaderKey, "k1")
	require.Equal(t, http.StatusOK, first.Code)
	second := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "pro", body, idempotency.HeaderKey, "k1")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, e.mem.Usage(), 1)

	// Keys are scoped per caller.
	other := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "ent", body, idempotency.HeaderKey, "k1")
	assert.Empty(t, other.Header().Get(idempotency.HeaderReplayed))
	assert.Len(t, e.mem.Usage(), 2)
}

func TestRateLimited(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Limiter = ratelimit.NewMemory(0.001, 2, 16) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/usage", "pro", "").Code)
	}
	rec := e.do(t, http.MethodGet, "/v1/usage", "pro", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another caller has its own bucket.
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/v1/usage", "ent", "").Code)
}

func TestWatchUnknownAlert(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/intelligence/missing/watch", "ent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, e.manager.Watches())
}

func TestWatchStreamsUpdates(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/intelligence/A/watch", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "ent")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	waitFor("event: ready")
	require.Len(t, e.manager.Watches(), 1)

	require.NoError(t, e.mem.InsertAnomaly(context.Background(), contracts.Anomaly{
		ID: "C", Type: contracts.TypeTariffChange, Severity: contracts.SeverityCritical,
		Timestamp: testNow.Add(-2 * time.Hour), Entities: contracts.Entities{Product: "palm-oil"},
	}))
	rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "ent", `{"alert_id":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	waitFor("event: " + string(contracts.UpdateNewConnection))
	data := waitFor("data: ")
	var payload contracts.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &payload))
	assert.Equal(t, contracts.WebhookPayloadType, payload.Type)
	assert.Equal(t, "A", payload.AlertID)
	assert.Equal(t, contracts.UpdateNewConnection, payload.UpdateType)

	cancel()
	assert.Eventually(t, func() bool { return len(e.manager.Watches()) == 0 }, 2*time.Second, 10*time.Millisecond,
		fmt.Sprintf("watch should stop after disconnect, %d left", len(e.manager.Watches())))
}

func TestWatchStreamHidesFactorIDsFromFreeTier(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/intelligence/A/watch", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "newcomer")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	waitFor("event: ready")

	require.NoError(t, e.mem.InsertAnomaly(context.Background(), contracts.Anomaly{
		ID: "C", Type: contracts.TypeTariffChange, Severity: contracts.SeverityCritical,
		Timestamp: testNow.Add(-2 * time.Hour), Entities: contracts.Entities{Product: "palm-oil"},
	}))
	rec := e.do(t, http.MethodPost, "/v1/intelligence/analyze", "newcomer", `{"alert_id":"A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	waitFor("event: " + string(contracts.UpdateNewConnection))
	data := waitFor("data: ")
	var payload contracts.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &payload))
	assert.NotContains(t, payload.Data, "new_factor_ids")
	assert.Equal(t, 1.0, payload.Data["new_factor_count"])
	assert.NotEmpty(t, payload.Data["upgrade_hint"])
}

func TestRedactFactorsLeavesOtherEventsAlone(t *testing.T) {
	cascadeEvent := contracts.UpdateEvent{Type: contracts.UpdateCascade, Data: map[string]any{"cascade_impact": 50.0}}
	assert.Equal(t, cascadeEvent, redactFactors(cascadeEvent))

	conn := contracts.UpdateEvent{Type: contracts.UpdateNewConnection, Data: map[string]any{
		"new_factor_ids": []string{"x", "y"},
		"overall_risk":   40.0,
	}}
	got := redactFactors(conn)
	assert.Equal(t, 2, got.Data["new_factor_count"])
	assert.Equal(t, 40.0, got.Data["overall_risk"])
	assert.NotContains(t, got.Data, "new_factor_ids")
	assert.Contains(t, conn.Data, "new_factor_ids", "input event is not mutated")
}
