package cascade

import (
	"math"
	"sort"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type reached struct {
	anomaly contracts.Anomaly
	score   float64
	hop     int
	via     string
}

// Propagate expands the graph breadth-first from the primary node. A node
// keeps the hop at which it was first reached; a decayed score never exceeds
// the score of the node that discovered it.
func (p Params) Propagate(g Graph) []contracts.ConnectedFactor {
	visited := map[string]struct{}{g.Primary.ID: {}}
	var all []reached

	frontier := make([]reached, 0, len(g.Direct))
	for _, e := range g.Direct {
		if _, ok := visited[e.Anomaly.ID]; ok {
			continue
		}
		visited[e.Anomaly.ID] = struct{}{}
		frontier = append(frontier, reached{anomaly: e.Anomaly, score: e.Score, hop: 1, via: g.Primary.ID})
	}
	all = append(all, frontier...)

	for hop := 2; hop <= p.MaxHops && len(frontier) > 0; hop++ {
		decay := math.Pow(p.HopDecay, float64(hop-1))
		next := make(map[string]reached)

		for _, parent := range frontier {
			for _, cand := range g.Candidates {
				if _, ok := visited[cand.ID]; ok {
					continue
				}
				score := round4(math.Min(parent.score, p.Pairwise(parent.anomaly, cand, g.Window)*decay))
				if score < p.RelevanceFloor {
					continue
				}
				if prev, ok := next[cand.ID]; ok && (prev.score > score || (prev.score == score && prev.via < parent.anomaly.ID)) {
					continue
				}
				next[cand.ID] = reached{anomaly: cand, score: score, hop: hop, via: parent.anomaly.ID}
			}
		}

		frontier = frontier[:0:0]
		for id, r := range next {
			visited[id] = struct{}{}
			frontier = append(frontier, r)
		}
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].anomaly.ID < frontier[j].anomaly.ID })
		all = append(all, frontier...)
	}

	factors := make([]contracts.ConnectedFactor, 0, len(all))
	for _, r := range all {
		factors = append(factors, contracts.ConnectedFactor{
			ID:               r.anomaly.ID,
			Type:             r.anomaly.Type,
			Severity:         r.anomaly.Severity,
			Timestamp:        r.anomaly.Timestamp,
			CorrelationScore: r.score,
			Hop:              r.hop,
			Via:              r.via,
		})
	}
	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].CorrelationScore != factors[j].CorrelationScore {
			return factors[i].CorrelationScore > factors[j].CorrelationScore
		}
		return factors[i].ID < factors[j].ID
	})
	return factors
}
