package contracts

import "time"

type Tier string

const (
	TierFree         Tier = "free"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 1
	case TierProfessional:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// UsageLimits of a tier. AnalysesPerMonth <= 0 means unlimited.
type UsageLimits struct {
	AnalysesPerMonth  int `json:"analyses_per_month" koanf:"analyses_per_month"`
	MaxTimeWindowDays int `json:"max_time_window_days" koanf:"max_time_window_days"`
}

type Subscription struct {
	UserID      string      `json:"user_id"`
	Tier        Tier        `json:"tier"`
	UsageLimits UsageLimits `json:"usage_limits"`
}

type AnalysisType string

const (
	AnalysisSingle     AnalysisType = "single"
	AnalysisBatch      AnalysisType = "batch"
	AnalysisPrediction AnalysisType = "prediction"
)

type UsageRecord struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	AlertID      string            `json:"alert_id"`
	AnalysisType AnalysisType      `json:"analysis_type"`
	TimeWindow   int               `json:"time_window"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type WebhookFilters struct {
	UpdateTypes    []UpdateType `json:"update_types,omitempty"`
	MinOverallRisk float64      `json:"min_overall_risk,omitempty"`
}

type WebhookSubscription struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	WebhookURL string         `json:"webhook_url"`
	AlertIDs   []string       `json:"alert_ids"`
	Filters    WebhookFilters `json:"filters"`
	TimeWindow int            `json:"time_window"`
	IsActive   bool           `json:"is_active"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Covers reports whether the subscription watches alertID.
func (w WebhookSubscription) Covers(alertID string) bool {
	for _, id := range w.AlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}
