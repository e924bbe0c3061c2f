// Package predict estimates how likely and how soon a snapshot's cascade
// will spread. The default implementation is deterministic arithmetic over
// the snapshot; a learned model can replace it behind Predictor.
package predict

import (
	"math"
	"sort"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type Predictor interface {
	Predict(snap contracts.IntelligenceSnapshot) contracts.Prediction
}

const (
	HeuristicModel   = "heuristic-v1"
	confidenceSpread = 10.0
	maxSimilarCases  = 3
	maxDaysToCascade = 30.0
	impactSaturation = 4.0
)

// Heuristic is a pure Predictor: the same snapshot always yields the same
// prediction.
type Heuristic struct{}

func (Heuristic) Predict(snap contracts.IntelligenceSnapshot) contracts.Prediction {
	impact := snap.ImpactCascade.CascadingImpact
	risk := snap.RiskAssessment.OverallRisk

	likelihood := round2(clamp(0.6*impact+0.4*risk, 0, 100))

	return contracts.Prediction{
		AlertID:                    snap.PrimaryAlert.ID,
		Likelihood:                 likelihood,
		PredictedImpact:            predictedImpact(snap.ConnectedFactors, snap.ImpactCascade.TotalFactors),
		EstimatedTimeToCascadeDays: int(math.Round(1 + (maxDaysToCascade-1)*(1-likelihood/100))),
		ConfidenceInterval: contracts.ConfidenceInterval{
			Lower: round2(clamp(likelihood-confidenceSpread, 0, 100)),
			Upper: round2(clamp(likelihood+confidenceSpread, 0, 100)),
		},
		SimilarCases: similarCases(snap),
		Model:        HeuristicModel,
	}
}

// predictedImpact grows with the factor count, scaled by the mean severity.
func predictedImpact(factors []contracts.ConnectedFactor, total int) float64 {
	if total == 0 || len(factors) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range factors {
		sum += f.Severity.Weight()
	}
	mean := sum / float64(len(factors))
	return round2(clamp(100*(1-math.Exp(-float64(total)*mean/impactSaturation)), 0, 100))
}

// similarCases is derived from the current snapshot's factor types, not from
// a historical store.
func similarCases(snap contracts.IntelligenceSnapshot) []contracts.SimilarCase {
	best := make(map[contracts.AnomalyType]float64)
	for _, f := range snap.ConnectedFactors {
		if f.CorrelationScore > best[f.Type] {
			best[f.Type] = f.CorrelationScore
		}
	}

	types := make([]contracts.AnomalyType, 0, len(best))
	for t := range best {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if best[types[i]] != best[types[j]] {
			return best[types[i]] > best[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) > maxSimilarCases {
		types = types[:maxSimilarCases]
	}

	cases := make([]contracts.SimilarCase, 0, len(types))
	for _, t := range types {
		cases = append(cases, contracts.SimilarCase{
			ID:          "case-" + string(t),
			Type:        t,
			Description: "Prior " + string(t) + " cascade linked to a " + string(snap.PrimaryAlert.Type) + " alert",
			Similarity:  round2(best[t] * 100),
			Outcome:     outcomeFor(snap.RiskAssessment.MitigationPriority),
		})
	}
	return cases
}

func outcomeFor(p contracts.Priority) string {
	switch p {
	case contracts.PriorityCritical:
		return "escalated to multi-market disruption"
	case contracts.PriorityHigh:
		return "regional disruption contained after intervention"
	case contracts.PriorityMedium:
		return "localized price pressure"
	default:
		return "resolved without escalation"
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
