package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperr.NotFound("alert", "A"), http.StatusNotFound, "not_found"},
		{"unauthorized", apperr.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"tier", &apperr.TierError{Feature: "webhooks", CurrentTier: contracts.TierProfessional, RequiredTier: contracts.TierEnterprise}, http.StatusForbidden, "tier_required"},
		{"limit", &apperr.LimitError{Tier: contracts.TierFree, Limit: 10, Used: 10}, http.StatusForbidden, "limit_reached"},
		{"validation", apperr.Invalid("alert_ids", "too many"), http.StatusBadRequest, "validation"},
		{"transient", apperr.Transient("list anomalies", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestTierErrorCarriesRequiredTier(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &apperr.TierError{
		Feature: "webhooks", CurrentTier: contracts.TierProfessional,
		RequiredTier: contracts.TierEnterprise, Message: "Contact sales",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"required_tier":"enterprise"`)
	assert.Contains(t, rec.Body.String(), `"upgrade_message":"Contact sales"`)
}

func TestTransientHidesStoreDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.Transient("load", errors.New("password=hunter2")))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		AlertID string `json:"alert_id"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alert_id":"A"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "A", dst.AlertID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"alert":"A"}`))
	assert.True(t, errors.Is(DecodeJSON(req, &dst), apperr.ErrValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.True(t, errors.Is(DecodeJSON(req, &dst), apperr.ErrValidation))
}
