// Package stress re-derives credit scores under a macroeconomic scenario.
package stress

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Bounds are the clamp limits of a stressed probability.
type Bounds struct {
	Floor   float64
	Ceiling float64
}

// CreditBounds are the PD clamp limits of the built-in credit model.
var CreditBounds = Bounds{Floor: 0.001, Ceiling: 0.95}

// BoundsOf reads the clamp limits from a rule set, falling back to
// CreditBounds when the rule set does not clamp.
func BoundsOf(rs *domain.RuleSet) Bounds {
	if rs == nil || rs.Floor >= rs.Ceiling {
		return CreditBounds
	}
	return Bounds{Floor: rs.Floor, Ceiling: rs.Ceiling}
}

// Multiplier returns Π(1 + (v − baseline) × sensitivity) over the scenario.
func Multiplier(s domain.Scenario) float64 {
	m := 1.0
	for _, sh := range s.Shocks {
		m *= sh.Multiplier()
	}
	return m
}

// Apply returns a new entity set with every primary score scaled by the
// scenario multiplier and clamped to b. Expected loss and risk level are
// recomputed from the stressed score. The input is never modified; a
// baseline scenario returns equal entities.
func Apply(entities []domain.ScoredEntity, s domain.Scenario, b Bounds) []domain.ScoredEntity {
	s = s.Normalize()
	out := make([]domain.ScoredEntity, len(entities))
	if s.IsBaseline() {
		copy(out, entities)
		return out
	}

	m := Multiplier(s)
	for i, e := range entities {
		p := domain.Clamp(e.PrimaryScore*m, b.Floor, b.Ceiling)

		metrics := make(map[string]float64, len(e.DerivedMetrics))
		for k, v := range e.DerivedMetrics {
			metrics[k] = v
		}
		if _, ok := metrics[domain.MetricExpectedLoss]; ok {
			metrics[domain.MetricExpectedLoss] = p * e.Secondary() * metrics[domain.MetricEAD]
		}

		stressed := e
		stressed.PrimaryScore = p
		stressed.DerivedMetrics = metrics
		stressed.RiskLevel = scoring.Level(e.Module, p)
		out[i] = stressed
	}
	return out
}
