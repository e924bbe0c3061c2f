package monitor

import (
	"math"
	"sort"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// Diff compares snap against the previous check and returns the next
// baseline with the events to emit. The cascading-impact baseline moves only
// when a cascade_update fires; risk and factor ids always move.
func Diff(prev Baseline, snap contracts.IntelligenceSnapshot, cascadeDelta, riskThreshold float64) (Baseline, []contracts.UpdateEvent) {
	impact := snap.ImpactCascade.CascadingImpact
	risk := snap.RiskAssessment.OverallRisk

	next := Baseline{
		CascadingImpact: prev.CascadingImpact,
		OverallRisk:     risk,
		FactorIDs:       sortedIDs(snap),
	}
	var events []contracts.UpdateEvent

	if delta := impact - prev.CascadingImpact; math.Abs(delta) > cascadeDelta {
		events = append(events, contracts.UpdateEvent{
			Type: contracts.UpdateCascade,
			Data: map[string]any{
				"previous_impact": prev.CascadingImpact,
				"cascade_impact":  impact,
				"delta":           math.Round(delta*100) / 100,
				"total_factors":   snap.ImpactCascade.TotalFactors,
				"overall_risk":    risk,
				"status":          string(snap.ImpactCascade.Status),
			},
		})
		next.CascadingImpact = impact
	}

	if prev.OverallRisk <= riskThreshold && risk > riskThreshold {
		events = append(events, contracts.UpdateEvent{
			Type: contracts.UpdateRiskChange,
			Data: riskData(snap, riskThreshold, map[string]any{"previous_risk": prev.OverallRisk}),
		})
	}

	known := make(map[string]struct{}, len(prev.FactorIDs))
	for _, id := range prev.FactorIDs {
		known[id] = struct{}{}
	}
	var added []string
	for _, id := range next.FactorIDs {
		if _, ok := known[id]; !ok {
			added = append(added, id)
		}
	}
	if len(added) > 0 {
		events = append(events, contracts.UpdateEvent{
			Type: contracts.UpdateNewConnection,
			Data: map[string]any{
				"new_factor_ids": added,
				"total_factors":  snap.ImpactCascade.TotalFactors,
				"overall_risk":   risk,
			},
		})
	}
	return next, events
}

func riskData(snap contracts.IntelligenceSnapshot, threshold float64, extra map[string]any) map[string]any {
	data := map[string]any{
		"overall_risk":        snap.RiskAssessment.OverallRisk,
		"threshold":           threshold,
		"cascade_impact":      snap.ImpactCascade.CascadingImpact,
		"mitigation_priority": string(snap.RiskAssessment.MitigationPriority),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func sortedIDs(snap contracts.IntelligenceSnapshot) []string {
	ids := make([]string, 0, len(snap.ConnectedFactors))
	for _, f := range snap.ConnectedFactors {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return ids
}
