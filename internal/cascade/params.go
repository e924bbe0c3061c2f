// Package cascade builds the correlation graph around a primary alert,
// expands it across hops and reduces it to an intelligence snapshot.
package cascade

import (
	"errors"
	"math"
)

// Params holds every tunable of the pipeline.
type Params struct {
	TypeWeight     float64 `koanf:"type_weight"`
	TemporalWeight float64 `koanf:"temporal_weight"`
	EntityWeight   float64 `koanf:"entity_weight"`
	// RelevanceFloor discards edges scoring below it, at every hop.
	RelevanceFloor float64 `koanf:"relevance_floor"`
	MaxHops        int     `koanf:"max_hops"`
	HopDecay       float64 `koanf:"hop_decay"`
	// ChainThreshold is the minimum score at which a chain-relevant factor
	// marks the supply chain as affected.
	ChainThreshold float64 `koanf:"chain_threshold"`
}

func DefaultParams() Params {
	return Params{
		TypeWeight:     0.4,
		TemporalWeight: 0.3,
		EntityWeight:   0.3,
		RelevanceFloor: 0.4,
		MaxHops:        2,
		HopDecay:       0.7,
		ChainThreshold: 0.5,
	}
}

func (p Params) Validate() error {
	if p.TypeWeight < 0 || p.TemporalWeight < 0 || p.EntityWeight < 0 {
		return errors.New("correlation weights must be non-negative")
	}
	if sum := p.TypeWeight + p.TemporalWeight + p.EntityWeight; sum <= 0 || sum > 1.0001 {
		return errors.New("correlation weights must sum to a value in (0,1]")
	}
	if p.RelevanceFloor < 0 || p.RelevanceFloor > 1 {
		return errors.New("relevance floor must be in [0,1]")
	}
	if p.MaxHops < 1 {
		return errors.New("max hops must be at least 1")
	}
	if p.HopDecay <= 0 || p.HopDecay >= 1 {
		return errors.New("hop decay must be in (0,1)")
	}
	return nil
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

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
