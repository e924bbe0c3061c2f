package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

// watch streams update events for one alert as Server-Sent Events. The
// watch is stopped when the client goes away.
func (h *handler) watch(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		httpx.WriteJSON(w, http.StatusNotImplemented, map[string]any{"error": "watch stream disabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, errors.New("response writer cannot stream"))
		return
	}

	ctx := r.Context()
	alertID := chi.URLParam(r, "alertID")
	requested, err := parseWindow(r.URL.Query().Get("time_window"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	grant, err := h.svc.Watch(ctx, UserFrom(ctx), requested)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	window := grant.WindowDays

	watch, err := h.monitor.Watch(ctx, alertID, window)
	if err != nil {
		if !apperr.IsNotFound(err) {
			h.logger.Warn("watch start failed", zap.String("alert_id", alertID), zap.Error(err))
		}
		httpx.WriteError(w, err)
		return
	}
	defer watch.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "ready", "", map[string]any{
		"watch_id":    watch.ID(),
		"alert_id":    alertID,
		"time_window": window,
	})
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watch.Done():
			return
		case e, ok := <-watch.Events():
			if !ok {
				return
			}
			if grant.Tier == contracts.TierFree {
				e = redactFactors(e)
			}
			writeEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// redactFactors replaces factor ids with their count. Free callers only see
// the top connected factors of a snapshot, and a watch diff is not ranked.
func redactFactors(e contracts.UpdateEvent) contracts.UpdateEvent {
	ids, ok := e.Data["new_factor_ids"].([]string)
	if !ok {
		return e
	}
	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		if k != "new_factor_ids" {
			data[k] = v
		}
	}
	data["new_factor_count"] = len(ids)
	data["upgrade_hint"] = tier.UpgradeMessage(contracts.TierFree)
	e.Data = data
	return e
}

func writeEvent(w http.ResponseWriter, e contracts.UpdateEvent) {
	writeSSE(w, string(e.Type), e.ID, contracts.NewWebhookPayload(e))
}

func writeSSE(w http.ResponseWriter, event, id string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if id != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", id)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}
