package contracts

import "time"

type UpdateType string

const (
	UpdateCascade       UpdateType = "cascade_update"
	UpdateRiskChange    UpdateType = "risk_change"
	UpdateNewConnection UpdateType = "new_connection"
)

// UpdateEvent is emitted by the change monitor and the risk scanner.
type UpdateEvent struct {
	ID        string         `json:"id"`
	Type      UpdateType     `json:"type"`
	AlertID   string         `json:"alert_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (e UpdateEvent) Key() string {
	return e.AlertID
}

const WebhookPayloadType = "connection_update"

// WebhookPayload is the body pushed to webhook subscribers.
type WebhookPayload struct {
	Type       string         `json:"type"`
	AlertID    string         `json:"alert_id"`
	Timestamp  time.Time      `json:"timestamp"`
	UpdateType UpdateType     `json:"update_type"`
	Data       map[string]any `json:"data"`
}

func NewWebhookPayload(e UpdateEvent) WebhookPayload {
	return WebhookPayload{
		Type:       WebhookPayloadType,
		AlertID:    e.AlertID,
		Timestamp:  e.Timestamp,
		UpdateType: e.Type,
		Data:       e.Data,
	}
}
