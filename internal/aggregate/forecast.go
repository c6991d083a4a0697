package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Forecast model constants.
const (
	BaseWindow       = 6
	SeasonalPeriod   = 12
	SeasonalScale    = 0.2
	TrendScale       = 0.02
	BaseConfidence   = 0.15
	SpreadConfidence = 0.1
)

// Projection extends the revenue series params.Horizon periods forward.
// The base is the mean of the last six actuals. Step i adds a seasonal term
// sin(2πi/12)×strength×0.2×base and a trend term i×damping×0.02×base. The
// band widens with the coefficient of variation of the actuals.
func Projection(entities []domain.ScoredEntity, params domain.ForecastParams) []domain.ForecastPoint {
	actuals := make([]float64, 0, len(entities))
	for _, e := range entities {
		actuals = append(actuals, e.Features.Float(domain.ColRevenue))
	}
	if len(actuals) == 0 || params.Horizon <= 0 {
		return []domain.ForecastPoint{}
	}

	start := len(actuals) - BaseWindow
	if start < 0 {
		start = 0
	}
	base := mean(actuals[start:])
	spread := BaseConfidence + SpreadConfidence*math.Min(1, variation(actuals))
	last := entities[len(entities)-1].Features.String(domain.ColPeriod)

	out := make([]domain.ForecastPoint, 0, params.Horizon)
	for i := 0; i < params.Horizon; i++ {
		season := math.Sin(2*math.Pi*float64(i)/SeasonalPeriod) * params.SeasonalityStrength * SeasonalScale * base
		trend := float64(i) * params.TrendDamping * TrendScale * base
		f := base + season + trend
		out = append(out, domain.ForecastPoint{
			Step:        i + 1,
			Period:      nextPeriod(last, i+1),
			Forecast:    f,
			Lower:       f * (1 - spread),
			Upper:       f * (1 + spread),
			Seasonality: season,
			Trend:       trend,
		})
	}
	return out
}

// nextPeriod labels the step after last. YYYY-MM and YYYY-MM-DD periods
// advance by months; anything else becomes t+N.
func nextPeriod(last string, step int) string {
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, last); err == nil {
			return t.AddDate(0, step, 0).Format("2006-01")
		}
	}
	return fmt.Sprintf("t+%d", step)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// variation is the coefficient of variation, 0 when the mean is 0.
func variation(v []float64) float64 {
	m := mean(v)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, x := range v {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss/float64(len(v))) / math.Abs(m)
}

// Promos models the return of every campaign with spend, in first-seen
// order. Spend is summed per campaign:
//
//	incremental = spend × (2 + lift/100 × 3) × saturation × (1 + growth/100)
//	revenue     = incremental + 0.5 × spend
//	roi         = (revenue − spend) / spend
func Promos(entities []domain.ScoredEntity, params domain.ForecastParams) []domain.PromoResult {
	index := make(map[string]int)
	out := make([]domain.PromoResult, 0)
	for _, e := range entities {
		spend := e.Features.Float(domain.ColSpend)
		if spend <= 0 {
			continue
		}
		i, ok := index[e.Group]
		if !ok {
			i = len(out)
			index[e.Group] = i
			out = append(out, domain.PromoResult{Campaign: e.Group, Lift: params.PromoLift})
		}
		out[i].Spend += spend
	}

	multiplier := (2 + params.PromoLift/100*3) * params.MarketSaturation * (1 + params.BaselineGrowth/100)
	for i := range out {
		p := &out[i]
		p.IncrementalRevenue = p.Spend * multiplier
		p.Revenue = p.IncrementalRevenue + 0.5*p.Spend
		p.ROI = ratio(p.Revenue-p.Spend, p.Spend)
	}
	return out
}

// Forecast builds the forecast module view.
func Forecast(entities []domain.ScoredEntity, params domain.ForecastParams) *domain.ForecastAnalysis {
	a := &domain.ForecastAnalysis{
		Params:     params,
		Projection: Projection(entities, params),
		Promos:     Promos(entities, params),
	}

	var sum float64
	for _, p := range a.Projection {
		sum += p.Forecast
	}
	a.AvgForecast = ratio(sum, float64(len(a.Projection)))

	var roi float64
	for i, p := range a.Promos {
		roi += p.ROI
		if i == 0 || p.ROI > a.BestROI {
			a.BestROI = p.ROI
			a.BestCampaign = p.Campaign
		}
	}
	a.AvgROI = ratio(roi, float64(len(a.Promos)))
	return a
}
