package domain

import "math"

// Shock is one macroeconomic stress knob.
// Its multiplier on a primary score is 1 + (Value - Baseline) * Sensitivity.
type Shock struct {
	Name        string  `json:"name" yaml:"name"`
	Value       float64 `json:"value" yaml:"value"`
	Baseline    float64 `json:"baseline" yaml:"baseline"`
	Sensitivity float64 `json:"sensitivity" yaml:"sensitivity"`
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
}

// Multiplier returns the factor this shock applies.
func (s Shock) Multiplier() float64 {
	return 1 + (s.Value-s.Baseline)*s.Sensitivity
}

// Scenario is a set of stress knobs applied together.
type Scenario struct {
	Name   string  `json:"name" yaml:"name"`
	Shocks []Shock `json:"shocks" yaml:"shocks"`
}

// Stress knob names.
const (
	ShockUnemployment = "unemployment_rate"
	ShockInterestRate = "interest_rate_change"
	ShockMacro        = "macro_shock"
)

// BaselineScenario returns the credit stress knobs at their baselines.
func BaselineScenario() Scenario {
	return Scenario{
		Name: "baseline",
		Shocks: []Shock{
			{Name: ShockUnemployment, Value: 5.0, Baseline: 5.0, Sensitivity: 0.15, Min: 3, Max: 15},
			{Name: ShockInterestRate, Value: 0, Baseline: 0, Sensitivity: 0.1, Min: -3, Max: 5},
			{Name: ShockMacro, Value: 0, Baseline: 0, Sensitivity: 0.2, Min: -2, Max: 3},
		},
	}
}

// CreditScenario builds a stress scenario from the three credit knobs.
func CreditScenario(unemployment, interestChange, macroShock float64) Scenario {
	s := BaselineScenario()
	s.Name = "custom"
	s.Shocks[0].Value = unemployment
	s.Shocks[1].Value = interestChange
	s.Shocks[2].Value = macroShock
	return s.Normalize()
}

// Normalize clamps every knob into its documented range and replaces NaN
// with the baseline.
func (s Scenario) Normalize() Scenario {
	out := Scenario{Name: s.Name, Shocks: make([]Shock, len(s.Shocks))}
	for i, sh := range s.Shocks {
		if math.IsNaN(sh.Value) {
			sh.Value = sh.Baseline
		}
		if sh.Min < sh.Max {
			sh.Value = Clamp(sh.Value, sh.Min, sh.Max)
		}
		out.Shocks[i] = sh
	}
	return out
}

// IsBaseline reports whether every knob sits at its baseline.
func (s Scenario) IsBaseline() bool {
	for _, sh := range s.Shocks {
		if sh.Value != sh.Baseline {
			return false
		}
	}
	return true
}

// Value returns the current value of a named knob.
func (s Scenario) Value(name string) (float64, bool) {
	for _, sh := range s.Shocks {
		if sh.Name == name {
			return sh.Value, true
		}
	}
	return 0, false
}

// ESGParams weights the three ESG pillars and sets the risk threshold.
type ESGParams struct {
	EnvironmentalWeight float64 `json:"environmentalWeight" yaml:"environmental_weight"`
	SocialWeight        float64 `json:"socialWeight" yaml:"social_weight"`
	GovernanceWeight    float64 `json:"governanceWeight" yaml:"governance_weight"`
	RiskThreshold       float64 `json:"riskThreshold" yaml:"risk_threshold"`
}

// DefaultESGParams returns the default pillar weights and threshold.
func DefaultESGParams() ESGParams {
	return ESGParams{
		EnvironmentalWeight: 0.4,
		SocialWeight:        0.3,
		GovernanceWeight:    0.3,
		RiskThreshold:       70,
	}
}

// Normalize clamps weights to [0.1, 1] and the threshold to [30, 100].
// The zero value normalizes to the defaults.
func (p ESGParams) Normalize() ESGParams {
	d := DefaultESGParams()
	if p == (ESGParams{}) {
		return d
	}
	return ESGParams{
		EnvironmentalWeight: clampOr(p.EnvironmentalWeight, 0.1, 1, d.EnvironmentalWeight),
		SocialWeight:        clampOr(p.SocialWeight, 0.1, 1, d.SocialWeight),
		GovernanceWeight:    clampOr(p.GovernanceWeight, 0.1, 1, d.GovernanceWeight),
		RiskThreshold:       clampOr(p.RiskThreshold, 30, 100, d.RiskThreshold),
	}
}

// ForecastParams drives the revenue projection and promo ROI model.
type ForecastParams struct {
	Horizon             int     `json:"horizon" yaml:"horizon"`
	SeasonalityStrength float64 `json:"seasonalityStrength" yaml:"seasonality_strength"`
	TrendDamping        float64 `json:"trendDamping" yaml:"trend_damping"`
	PromoLift           float64 `json:"promoLift" yaml:"promo_lift"`           // percent
	BaselineGrowth      float64 `json:"baselineGrowth" yaml:"baseline_growth"` // percent
	MarketSaturation    float64 `json:"marketSaturation" yaml:"market_saturation"`
}

// DefaultForecastParams returns the default forecast knobs.
func DefaultForecastParams() ForecastParams {
	return ForecastParams{
		Horizon:             12,
		SeasonalityStrength: 0.3,
		TrendDamping:        0.8,
		PromoLift:           15,
		BaselineGrowth:      5,
		MarketSaturation:    0.7,
	}
}

// Normalize clamps every knob into its documented range.
// The zero value normalizes to the defaults.
func (p ForecastParams) Normalize() ForecastParams {
	d := DefaultForecastParams()
	if p == (ForecastParams{}) {
		return d
	}
	horizon := p.Horizon
	if horizon == 0 {
		horizon = d.Horizon
	}
	if horizon < 3 {
		horizon = 3
	}
	if horizon > 24 {
		horizon = 24
	}
	return ForecastParams{
		Horizon:             horizon,
		SeasonalityStrength: clampOr(p.SeasonalityStrength, 0, 1, d.SeasonalityStrength),
		TrendDamping:        clampOr(p.TrendDamping, 0.1, 1, d.TrendDamping),
		PromoLift:           clampOr(p.PromoLift, 5, 50, d.PromoLift),
		BaselineGrowth:      clampOr(p.BaselineGrowth, 0, 20, d.BaselineGrowth),
		MarketSaturation:    clampOr(p.MarketSaturation, 0.3, 1, d.MarketSaturation),
	}
}

// GraphOptions controls network graph truncation.
type GraphOptions struct {
	MaxNodes int `json:"maxNodes"`
	MaxEdges int `json:"maxEdges"`
	// RankByScore keeps the riskiest nodes and edges instead of the first seen.
	RankByScore bool `json:"rankByScore"`
}

// DefaultGraphOptions returns the 50 node / 100 edge insertion-order caps.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{MaxNodes: 50, MaxEdges: 100}
}

// Params bundles the per-module knobs of one analysis run.
type Params struct {
	Scenario *Scenario      `json:"scenario,omitempty"`
	ESG      ESGParams      `json:"esg"`
	Forecast ForecastParams `json:"forecast"`
	Graph    GraphOptions   `json:"graph"`
	Window   string         `json:"window,omitempty"` // 1h, 24h, 7d or empty for all
}

// DefaultParams returns defaults for every module.
func DefaultParams() Params {
	return Params{
		ESG:      DefaultESGParams(),
		Forecast: DefaultForecastParams(),
		Graph:    DefaultGraphOptions(),
	}
}

// Normalize clamps every knob.
func (p Params) Normalize() Params {
	out := Params{
		ESG:      p.ESG.Normalize(),
		Forecast: p.Forecast.Normalize(),
		Graph:    p.Graph,
		Window:   p.Window,
	}
	if p.Scenario != nil {
		s := p.Scenario.Normalize()
		out.Scenario = &s
	}
	if out.Graph.MaxNodes <= 0 {
		out.Graph.MaxNodes = 50
	}
	if out.Graph.MaxEdges <= 0 {
		out.Graph.MaxEdges = 100
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampOr(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return Clamp(v, lo, hi)
}
