package cascade

import (
	"fmt"
	"math"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

const (
	ActionEscalate        = "Escalate to trade compliance leadership immediately"
	ActionContingency     = "Activate contingency sourcing and routing plans"
	ActionReviewExposure  = "Review exposure of affected shipments within 24 hours"
	ActionIncreaseMonitor = "Increase monitoring frequency for connected anomalies"
	ActionStandardMonitor = "Continue monitoring with standard cadence"
	ActionLogistics       = "Coordinate with logistics partners on alternative routes"
	ActionCriticalFirst   = "Investigate critical-severity factors first"
	ActionConsolidate     = "Consolidate related alerts into a single incident"
)

// Synthesize reduces the connected factors into the scalar parts of a
// snapshot. It is a pure function of its inputs.
func (p Params) Synthesize(primary contracts.Anomaly, factors []contracts.ConnectedFactor) contracts.IntelligenceSnapshot {
	if factors == nil {
		factors = []contracts.ConnectedFactor{}
	}

	impact := cascadingImpact(factors)
	critical := 0
	chain := false
	for _, f := range factors {
		if f.Severity == contracts.SeverityCritical {
			critical++
		}
		if chainRelevant(f.Type) && f.CorrelationScore >= p.ChainThreshold {
			chain = true
		}
	}

	risk := overallRisk(impact, critical, len(factors), primary.Severity)
	priority := priorityFor(risk)
	riskFactors := riskFactorsFor(impact, len(factors), critical, chain)

	return contracts.IntelligenceSnapshot{
		PrimaryAlert: contracts.AlertSummary{
			ID:        primary.ID,
			Type:      primary.Type,
			Severity:  primary.Severity,
			Timestamp: primary.Timestamp,
		},
		ConnectedFactors: factors,
		ImpactCascade: contracts.ImpactCascade{
			CascadingImpact:     impact,
			TotalFactors:        len(factors),
			AffectedSupplyChain: chain,
			Status:              statusFor(len(factors), impact),
		},
		RiskAssessment: contracts.RiskAssessment{
			OverallRisk:        risk,
			MitigationPriority: priority,
			RiskFactors:        riskFactors,
		},
		RecommendedActions: actionsFor(priority, len(factors), critical, chain),
	}
}

// cascadingImpact saturates towards 100 as stronger and more severe factors
// are added: 100 * (1 - prod(1 - score*severity)).
func cascadingImpact(factors []contracts.ConnectedFactor) float64 {
	remaining := 1.0
	for _, f := range factors {
		remaining *= 1 - clamp(f.CorrelationScore*f.Severity.Weight(), 0, 1)
	}
	return round2(clamp(100*(1-remaining), 0, 100))
}

func overallRisk(impact float64, critical, total int, primary contracts.Severity) float64 {
	score := 0.6*impact +
		math.Min(10*float64(critical), 20) +
		math.Min(float64(total), 10) +
		10*primary.Weight()
	return round2(clamp(score, 0, 100))
}

func chainRelevant(t contracts.AnomalyType) bool {
	switch t {
	case contracts.TypeFreightSurge, contracts.TypeTariffChange:
		return true
	case contracts.TypePriceSpike, contracts.TypeFXVolatility, contracts.TypeCustom:
		return false
	default:
		return false
	}
}

func priorityFor(risk float64) contracts.Priority {
	switch {
	case risk >= 80:
		return contracts.PriorityCritical
	case risk >= 60:
		return contracts.PriorityHigh
	case risk >= 40:
		return contracts.PriorityMedium
	default:
		return contracts.PriorityLow
	}
}

func statusFor(total int, impact float64) contracts.CascadeStatus {
	switch {
	case total == 0 || impact == 0:
		return contracts.StatusStable
	case impact < 40:
		return contracts.StatusContained
	case impact < 70:
		return contracts.StatusElevated
	default:
		return contracts.StatusCascading
	}
}

func riskFactorsFor(impact float64, total, critical int, chain bool) []string {
	factors := []string{}
	if impact > 70 {
		factors = append(factors, fmt.Sprintf("High cascading impact (%.1f) across connected anomalies", impact))
	}
	if total > 10 {
		factors = append(factors, fmt.Sprintf("Large number of interconnected factors (%d)", total))
	}
	if critical > 0 {
		factors = append(factors, fmt.Sprintf("%d critical-severity factor(s) connected", critical))
	}
	if chain {
		factors = append(factors, "Supply chain disruption risk identified")
	}
	return factors
}

func actionsFor(priority contracts.Priority, total, critical int, chain bool) []string {
	var actions []string
	switch priority {
	case contracts.PriorityCritical:
		actions = append(actions, ActionEscalate, ActionContingency)
	case contracts.PriorityHigh:
		actions = append(actions, ActionReviewExposure)
	case contracts.PriorityMedium:
		actions = append(actions, ActionIncreaseMonitor)
	default:
		actions = append(actions, ActionStandardMonitor)
	}
	if critical > 0 {
		actions = append(actions, ActionCriticalFirst)
	}
	if chain {
		actions = append(actions, ActionLogistics)
	}
	if total > 10 {
		actions = append(actions, ActionConsolidate)
	}
	return actions
}
