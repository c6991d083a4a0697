package domain

import "sort"

// RiskLevel is an ordinal risk category.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels returns every level from least to most severe.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// Rank orders levels: low < medium < high < critical.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Rank() >= other.Rank()
}

// ScoredEntity is one input row after scoring.
// Entities are never mutated once built; derivations return new values.
type ScoredEntity struct {
	ID             string             `json:"id"`
	Module         Module             `json:"module"`
	Features       Row                `json:"features"`
	PrimaryScore   float64            `json:"primaryScore"`
	SecondaryScore *float64           `json:"secondaryScore,omitempty"`
	DerivedMetrics map[string]float64 `json:"derivedMetrics,omitempty"`
	Labels         map[string]string  `json:"labels,omitempty"`
	RiskLevel      RiskLevel          `json:"riskLevel"`
	Tags           []string           `json:"tags,omitempty"`
	Group          string             `json:"group,omitempty"`
	Contributions  []Contribution     `json:"contributions,omitempty"`
}

// Metric returns a derived metric, or 0 when absent.
func (e ScoredEntity) Metric(name string) float64 {
	return e.DerivedMetrics[name]
}

// Secondary returns the secondary score, or 0 when absent.
func (e ScoredEntity) Secondary() float64 {
	if e.SecondaryScore == nil {
		return 0
	}
	return *e.SecondaryScore
}

// HasTag reports whether the entity carries the given indicator label.
func (e ScoredEntity) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can derive a new entity safely.
func (e ScoredEntity) Clone() ScoredEntity {
	out := e
	if e.SecondaryScore != nil {
		v := *e.SecondaryScore
		out.SecondaryScore = &v
	}
	if e.DerivedMetrics != nil {
		out.DerivedMetrics = make(map[string]float64, len(e.DerivedMetrics))
		for k, v := range e.DerivedMetrics {
			out.DerivedMetrics[k] = v
		}
	}
	if e.Labels != nil {
		out.Labels = make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			out.Labels[k] = v
		}
	}
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Contributions != nil {
		out.Contributions = append([]Contribution(nil), e.Contributions...)
	}
	return out
}

// MetricNames returns the derived metric names in sorted order.
func (e ScoredEntity) MetricNames() []string {
	names := make([]string, 0, len(e.DerivedMetrics))
	for k := range e.DerivedMetrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
