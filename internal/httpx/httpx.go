package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
)

const maxBodyBytes = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON decodes a single JSON object and rejects unknown fields. Errors
// are validation errors.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperr.Invalid("body", "request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("body", "request body is required")
		}
		return apperr.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	Field          string `json:"field,omitempty"`
	CurrentTier    string `json:"current_tier,omitempty"`
	RequiredTier   string `json:"required_tier,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Used           int    `json:"used,omitempty"`
	UpgradeMessage string `json:"upgrade_message,omitempty"`
}

// StatusFor maps the error taxonomy to an HTTP status and body.
func StatusFor(err error) (int, ErrorBody) {
	var (
		tierErr  *apperr.TierError
		limitErr *apperr.LimitError
		valErr   *apperr.ValidationError
	)
	switch {
	case errors.As(err, &tierErr):
		return http.StatusForbidden, ErrorBody{
			Error:          err.Error(),
			Code:           "tier_required",
			CurrentTier:    string(tierErr.CurrentTier),
			RequiredTier:   string(tierErr.RequiredTier),
			UpgradeMessage: tierErr.Message,
		}
	case errors.As(err, &limitErr):
		return http.StatusForbidden, ErrorBody{
			Error:          err.Error(),
			Code:           "limit_reached",
			CurrentTier:    string(limitErr.Tier),
			Limit:          limitErr.Limit,
			Used:           limitErr.Used,
			UpgradeMessage: limitErr.Message,
		}
	case errors.As(err, &valErr):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: "validation", Field: valErr.Field}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorBody{Error: err.Error(), Code: "unauthorized"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, ErrorBody{Error: err.Error(), Code: "forbidden"}
	case errors.Is(err, apperr.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorBody{Error: "data store unavailable, try again", Code: "unavailable"}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: "internal error", Code: "internal"}
	}
}

func WriteError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	WriteJSON(w, status, body)
}
