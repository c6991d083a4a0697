package scoring

import (
	"context"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// trailingWindow is how many prior periods feed the forecast trailing mean.
const trailingWindow = 3

func (s *Scorer) scoreChurn(ctx context.Context, rows []domain.Row) ([]domain.ScoredEntity, error) {
	results, err := s.evaluate(ctx, domain.ModuleChurn, rules.RuleSetChurn, rows)
	if err != nil {
		return nil, err
	}

	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		res := results[i]
		p := res.Score

		e := domain.ScoredEntity{
			ID:           ids.next(row, domain.ColCustomerID, i),
			Module:       domain.ModuleChurn,
			Features:     row,
			PrimaryScore: p,
			DerivedMetrics: map[string]float64{
				domain.MetricRevenueAtRisk: nonNegative(row.Float(domain.ColMonthlyRevenue)) * p * 12,
			},
			RiskLevel:     ChurnLevel(p),
			Tags:          res.Tags,
			Group:         groupKey(row, domain.ColSegment),
			Contributions: res.Contributions,
		}
		if signup, ok := row.Time(domain.ColSignupDate); ok {
			e.Labels = map[string]string{domain.LabelCohort: signup.Format("2006-01")}
		}
		out[i] = e
	}
	return out, nil
}

// creditInputs adds loan_to_value and ltv_known. The collateral falls back
// to the loan amount when it is zero; with both zero the ratio is unknown.
func creditInputs(row domain.Row) (domain.Row, float64, bool) {
	amount := row.Float(domain.ColLoanAmount)
	collateral := row.Float(domain.ColCollateralValue)
	if collateral == 0 {
		collateral = amount
	}

	ltv, known := 0.0, false
	if collateral != 0 {
		ltv, known = amount/collateral, true
	}
	return row.With(map[string]any{
		domain.ColLoanToValue: ltv,
		domain.ColLTVKnown:    known,
	}), ltv, known
}

// Exposure returns the exposure at default of a loan row: the current
// balance, or the loan amount when the balance is zero.
func Exposure(row domain.Row) float64 {
	if b := row.Float(domain.ColCurrentBalance); b != 0 {
		return nonNegative(b)
	}
	return nonNegative(row.Float(domain.ColLoanAmount))
}

func (s *Scorer) scoreCredit(ctx context.Context, rows []domain.Row) ([]domain.ScoredEntity, error) {
	inputs := make([]domain.Row, len(rows))
	ltvs := make([]float64, len(rows))
	for i, row := range rows {
		inputs[i], ltvs[i], _ = creditInputs(row)
	}

	pds, err := s.evaluate(ctx, domain.ModuleCredit, rules.RuleSetCreditPD, inputs)
	if err != nil {
		return nil, err
	}
	lgds, err := s.evaluate(ctx, domain.ModuleCredit, rules.RuleSetCreditLGD, inputs)
	if err != nil {
		return nil, err
	}

	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		pd, lgd := pds[i].Score, lgds[i].Score
		ead := Exposure(row)

		contributions := make([]domain.Contribution, 0, len(pds[i].Contributions)+len(lgds[i].Contributions))
		contributions = append(contributions, pds[i].Contributions...)
		contributions = append(contributions, lgds[i].Contributions...)

		out[i] = domain.ScoredEntity{
			ID:             ids.next(row, domain.ColLoanID, i),
			Module:         domain.ModuleCredit,
			Features:       row,
			PrimaryScore:   pd,
			SecondaryScore: domain.Float64(lgd),
			DerivedMetrics: map[string]float64{
				domain.MetricEAD:          ead,
				domain.MetricExpectedLoss: pd * lgd * ead,
				domain.MetricLoanToValue:  nonNegative(ltvs[i]),
			},
			RiskLevel:     CreditLevel(pd),
			Tags:          pds[i].Tags,
			Group:         groupKey(row, domain.ColLoanGrade),
			Contributions: contributions,
		}
	}
	return out, nil
}

func (s *Scorer) scoreESG(ctx context.Context, rows []domain.Row, params domain.ESGParams) ([]domain.ScoredEntity, error) {
	flags, err := s.evaluate(ctx, domain.ModuleESG, rules.RuleSetESGFlags, rows)
	if err != nil {
		return nil, err
	}

	weights := map[string]float64{
		domain.ColEnvironmental: params.EnvironmentalWeight,
		domain.ColSocial:        params.SocialWeight,
		domain.ColGovernance:    params.GovernanceWeight,
	}

	composites := s.rules.Composites()
	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		res, err := composites.EvaluateWith(rules.CompositeESG, row, weights, params.RiskThreshold)
		if err != nil {
			return nil, err
		}
		composite := domain.Clamp(res.Score, 0, 100)

		out[i] = domain.ScoredEntity{
			ID:           ids.next(row, domain.ColCompany, i),
			Module:       domain.ModuleESG,
			Features:     row,
			PrimaryScore: 1 - composite/100,
			DerivedMetrics: map[string]float64{
				domain.MetricOverallESG: composite,
			},
			RiskLevel:     ESGLevel(composite, params.RiskThreshold),
			Tags:          flags[i].Tags,
			Group:         groupKey(row, domain.ColCompany),
			Contributions: res.Contributions,
		}
	}
	return out, nil
}

// scoreForecast rates each period by its deviation from the mean of the
// previous periods. Rows are taken in input order.
func (s *Scorer) scoreForecast(ctx context.Context, rows []domain.Row) ([]domain.ScoredEntity, error) {
	inputs := make([]domain.Row, len(rows))
	means := make([]float64, len(rows))
	volatility := make([]float64, len(rows))

	for i, row := range rows {
		actual := row.Float(domain.ColRevenue)
		mean := trailingMean(rows, i)

		deviation, vol := 0.0, 0.0
		if mean != 0 {
			deviation = (actual - mean) / mean
			vol = domain.Clamp(math.Abs(deviation), 0, 1)
		}
		means[i] = mean
		volatility[i] = vol
		inputs[i] = row.With(map[string]any{domain.MetricDeviation: deviation})
	}

	flags, err := s.evaluate(ctx, domain.ModuleForecast, rules.RuleSetForecastFlags, inputs)
	if err != nil {
		return nil, err
	}

	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		out[i] = domain.ScoredEntity{
			ID:           ids.next(row, domain.ColPeriod, i),
			Module:       domain.ModuleForecast,
			Features:     row,
			PrimaryScore: volatility[i],
			DerivedMetrics: map[string]float64{
				domain.MetricTrailingMean: nonNegative(means[i]),
			},
			RiskLevel: SharedLevel(volatility[i]),
			Tags:      flags[i].Tags,
			Group:     groupKey(row, domain.ColCampaign),
		}
	}
	return out, nil
}

func trailingMean(rows []domain.Row, i int) float64 {
	start := i - trailingWindow
	if start < 0 {
		start = 0
	}
	if start == i {
		return 0
	}
	var sum float64
	for _, r := range rows[start:i] {
		sum += r.Float(domain.ColRevenue)
	}
	return sum / float64(i-start)
}
