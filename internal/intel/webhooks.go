package intel

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/tier"
)

type WebhookRequest struct {
	AlertIDs   []string                 `json:"alert_ids"`
	WebhookURL string                   `json:"webhook_url"`
	Filters    contracts.WebhookFilters `json:"filters"`
	TimeWindow int                      `json:"time_window"`
}

// SubscribeWebhook registers a push subscription. The enterprise gate is
// evaluated here only; later downgrades do not revoke it.
func (s *Service) SubscribeWebhook(ctx context.Context, userID string, req WebhookRequest) (contracts.WebhookSubscription, error) {
	if err := requireCaller(userID); err != nil {
		return contracts.WebhookSubscription{}, err
	}
	if err := validateWebhook(&req, s.batch.MaxSize); err != nil {
		return contracts.WebhookSubscription{}, err
	}

	sub, err := s.gate.Resolve(ctx, userID)
	if err != nil {
		return contracts.WebhookSubscription{}, err
	}
	if err := tier.Require(sub, tier.FeatureWebhooks); err != nil {
		return contracts.WebhookSubscription{}, err
	}
	window, _ := s.gate.ClampWindow(sub, req.TimeWindow)

	created, err := s.webhooks.CreateWebhook(ctx, contracts.WebhookSubscription{
		UserID:     userID,
		WebhookURL: req.WebhookURL,
		AlertIDs:   req.AlertIDs,
		Filters:    req.Filters,
		TimeWindow: window,
		IsActive:   true,
	})
	if err != nil {
		return contracts.WebhookSubscription{}, err
	}
	s.logger.Info("webhook subscription created",
		zap.String("user_id", userID),
		zap.String("webhook_id", created.ID),
		zap.Int("alerts", len(created.AlertIDs)))
	return created, nil
}

func (s *Service) ListWebhooks(ctx context.Context, userID string) ([]contracts.WebhookSubscription, error) {
	if err := requireCaller(userID); err != nil {
		return nil, err
	}
	return s.webhooks.ListWebhooks(ctx, userID)
}

// DeleteWebhook removes one of the caller's subscriptions. Other users'
// subscriptions report NotFound.
func (s *Service) DeleteWebhook(ctx context.Context, userID, id string) error {
	if err := requireCaller(userID); err != nil {
		return err
	}
	if id == "" {
		return apperr.Invalid("id", "is required")
	}
	return s.webhooks.DeleteWebhook(ctx, userID, id)
}

func validateWebhook(req *WebhookRequest, maxAlerts int) error {
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.WebhookURL == "" {
		return apperr.Invalid("webhook_url", "is required")
	}
	u, err := url.ParseRequestURI(req.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Invalid("webhook_url", "must be an absolute http(s) URL")
	}

	if len(req.AlertIDs) == 0 {
		return apperr.Invalid("alert_ids", "at least one alert id is required")
	}
	if len(req.AlertIDs) > maxAlerts {
		return apperr.Invalid("alert_ids", fmt.Sprintf("at most %d alert ids per subscription", maxAlerts))
	}
	ids := make([]string, 0, len(req.AlertIDs))
	seen := make(map[string]struct{}, len(req.AlertIDs))
	for _, id := range req.AlertIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return apperr.Invalid("alert_ids", "must not contain empty ids")
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	req.AlertIDs = ids

	for _, t := range req.Filters.UpdateTypes {
		switch t {
		case contracts.UpdateCascade, contracts.UpdateRiskChange, contracts.UpdateNewConnection:
		default:
			return apperr.Invalid("filters.update_types", fmt.Sprintf("unknown update type %q", t))
		}
	}
	if req.Filters.MinOverallRisk < 0 || req.Filters.MinOverallRisk > 100 {
		return apperr.Invalid("filters.min_overall_risk", "must be in [0,100]")
	}
	if req.TimeWindow < 0 {
		return apperr.Invalid("time_window", "must not be negative")
	}
	return nil
}
