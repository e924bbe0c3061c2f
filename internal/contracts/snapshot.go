package contracts

import "time"

type ConnectedFactor struct {
	ID               string      `json:"id"`
	Type             AnomalyType `json:"type"`
	Severity         Severity    `json:"severity"`
	Timestamp        time.Time   `json:"timestamp"`
	CorrelationScore float64     `json:"correlation_score"`
	Hop              int         `json:"hop"`
	Via              string      `json:"via,omitempty"`
}

type AlertSummary struct {
	ID        string      `json:"id"`
	Type      AnomalyType `json:"type"`
	Severity  Severity    `json:"severity"`
	Timestamp time.Time   `json:"timestamp"`
}

type CascadeStatus string

const (
	StatusStable    CascadeStatus = "stable"
	StatusContained CascadeStatus = "contained"
	StatusElevated  CascadeStatus = "elevated"
	StatusCascading CascadeStatus = "cascading"
)

type ImpactCascade struct {
	CascadingImpact     float64       `json:"cascading_impact"`
	TotalFactors        int           `json:"total_factors"`
	AffectedSupplyChain bool          `json:"affected_supply_chain"`
	Status              CascadeStatus `json:"status"`
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type RiskAssessment struct {
	OverallRisk        float64  `json:"overall_risk"`
	MitigationPriority Priority `json:"mitigation_priority"`
	RiskFactors        []string `json:"risk_factors"`
}

// IntelligenceSnapshot is recomputed on every analysis and never persisted.
type IntelligenceSnapshot struct {
	PrimaryAlert       AlertSummary      `json:"primary_alert"`
	ConnectedFactors   []ConnectedFactor `json:"connected_factors"`
	ImpactCascade      ImpactCascade     `json:"impact_cascade"`
	RiskAssessment     RiskAssessment    `json:"risk_assessment"`
	RecommendedActions []string          `json:"recommended_actions"`
	TimeWindowDays     int               `json:"time_window_days"`
}

// FactorIDs returns the set of connected factor ids.
func (s IntelligenceSnapshot) FactorIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.ConnectedFactors))
	for _, f := range s.ConnectedFactors {
		ids[f.ID] = struct{}{}
	}
	return ids
}

type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type SimilarCase struct {
	ID          string      `json:"id"`
	Type        AnomalyType `json:"type"`
	Description string      `json:"description"`
	Similarity  float64     `json:"similarity"`
	Outcome     string      `json:"outcome"`
}

type Prediction struct {
	AlertID                    string             `json:"alert_id"`
	Likelihood                 float64            `json:"likelihood"`
	PredictedImpact            float64            `json:"predicted_impact"`
	EstimatedTimeToCascadeDays int                `json:"estimated_time_to_cascade"`
	ConfidenceInterval         ConfidenceInterval `json:"confidence_interval"`
	SimilarCases               []SimilarCase      `json:"similar_historical_cases"`
	Model                      string             `json:"model"`
}
