package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/export"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
)

type analyzeRequest struct {
	AlertID    string `json:"alert_id"`
	TimeWindow int    `json:"time_window"`
}

type batchRequest struct {
	AlertIDs   []string `json:"alert_ids"`
	TimeWindow int      `json:"time_window"`
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.Analyze(r.Context(), UserFrom(r.Context()), req.AlertID, req.TimeWindow)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) analyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.svc.AnalyzeBatch(r.Context(), UserFrom(r.Context()), req.AlertIDs, req.TimeWindow)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) predict(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	p, err := h.svc.Predict(r.Context(), UserFrom(r.Context()), req.AlertID, req.TimeWindow)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// export runs a fresh analysis, charged like any other, and renders it.
func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	window, err := parseWindow(r.URL.Query().Get("time_window"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	res, err := h.svc.Analyze(r.Context(), UserFrom(r.Context()), alertID, window)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, res.IntelligenceSnapshot, format); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="intelligence-%s.%s"`, alertID, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) subscribeWebhook(w http.ResponseWriter, r *http.Request) {
	var req intel.WebhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	sub, err := h.svc.SubscribeWebhook(r.Context(), UserFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sub)
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.ListWebhooks(r.Context(), UserFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (h *handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteWebhook(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Usage(r.Context(), UserFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

// parseWindow reads an optional day count; empty means the default window.
func parseWindow(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("time_window", "must be a non-negative integer")
	}
	return n, nil
}
