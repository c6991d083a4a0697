package aggregate

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Portfolio constants.
const (
	CapitalMultiplier = 12.5
	TargetMargin      = 0.05
	LossCurveMonths   = 24
	HighPDThreshold   = 0.1
)

// Portfolio summarises a scored loan book. Weighted PD and LGD are
// exposure-weighted; every ratio is 0 when total exposure is 0.
func Portfolio(entities []domain.ScoredEntity) domain.PortfolioMetrics {
	m := domain.PortfolioMetrics{Loans: len(entities)}

	var pdSum, lgdSum float64
	for _, e := range entities {
		ead := e.Metric(domain.MetricEAD)
		m.TotalExposure += ead
		m.ExpectedLoss += e.Metric(domain.MetricExpectedLoss)
		pdSum += e.PrimaryScore * ead
		lgdSum += e.Secondary() * ead
	}

	m.WeightedPD = ratio(pdSum, m.TotalExposure)
	m.WeightedLGD = ratio(lgdSum, m.TotalExposure)
	m.CapitalRequirement = m.ExpectedLoss * CapitalMultiplier
	m.RiskAdjustedReturn = ratio(m.TotalExposure*TargetMargin-m.ExpectedLoss, m.TotalExposure)
	return m
}

// PDDistribution buckets loans by probability of default.
func PDDistribution(entities []domain.ScoredEntity) []domain.DistributionBucket {
	buckets := []domain.DistributionBucket{
		{Label: "0-1%", Lower: 0, Upper: 0.01},
		{Label: "1-5%", Lower: 0.01, Upper: 0.05},
		{Label: "5-10%", Lower: 0.05, Upper: 0.1},
		{Label: "10-20%", Lower: 0.1, Upper: 0.2},
		{Label: "20%+", Lower: 0.2, Upper: 1},
	}

	last := len(buckets) - 1
	for _, e := range entities {
		pd := e.PrimaryScore
		for i := range buckets {
			b := &buckets[i]
			if pd >= b.Lower && (pd < b.Upper || (i == last && pd <= b.Upper)) {
				b.Count++
				b.Exposure += e.Metric(domain.MetricEAD)
				break
			}
		}
	}
	return buckets
}

// LossCurve projects cumulative expected loss month by month:
// cum_pd = 1 - e^(-wPD × m/12) and EL = exposure × cum_pd × wLGD.
func LossCurve(p domain.PortfolioMetrics, months int) []domain.LossPoint {
	if p.Loans == 0 {
		return []domain.LossPoint{}
	}

	out := make([]domain.LossPoint, 0, months)
	for m := 1; m <= months; m++ {
		cum := 1 - math.Exp(-p.WeightedPD*float64(m)/12)
		out = append(out, domain.LossPoint{
			Month:        m,
			CumulativePD: cum,
			ExpectedLoss: p.TotalExposure * cum * p.WeightedLGD,
		})
	}
	return out
}

// Credit builds the credit module view.
func Credit(entities []domain.ScoredEntity) *domain.CreditAnalysis {
	p := Portfolio(entities)
	return &domain.CreditAnalysis{
		Portfolio:    p,
		Distribution: PDDistribution(entities),
		Grades:       Heatmap(entities, ByGroup, ByRiskLevel, ByMetric(domain.MetricEAD)),
		Purposes:     Heatmap(entities, ByFeature(domain.ColLoanPurpose), ByRiskLevel, ByMetric(domain.MetricEAD)),
		LossCurve:    LossCurve(p, LossCurveMonths),
		HighPD:       CountAbove(entities, HighPDThreshold),
	}
}
