package aggregate

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxCohorts is how many of the most recent cohorts are kept.
const MaxCohorts = 6

// retention decay: month -> (floor, scale). The curve point is
// max(floor, activeRatio × scale).
var retentionCurve = []struct {
	month int
	floor float64
	scale float64
}{
	{1, 85, 100},
	{2, 75, 90},
	{3, 65, 80},
	{6, 55, 70},
	{12, 45, 60},
}

type cohort struct {
	key      string
	earliest time.Time
	members  int
	active   int
}

// Cohorts groups entities by their cohort label, orders cohorts by earliest
// signup date and keeps the last limit cohorts. An entity counts as active
// when its churn probability is below 0.5. Entities without a cohort label
// are skipped.
func Cohorts(entities []domain.ScoredEntity, limit int) []domain.CohortRetention {
	index := make(map[string]*cohort)
	order := make([]*cohort, 0)

	for _, e := range entities {
		key := e.Labels[domain.LabelCohort]
		if key == "" {
			continue
		}
		signup, _ := e.Features.Time(domain.ColSignupDate)

		c, ok := index[key]
		if !ok {
			c = &cohort{key: key, earliest: signup}
			index[key] = c
			order = append(order, c)
		}
		if signup.Before(c.earliest) {
			c.earliest = signup
		}
		c.members++
		if e.PrimaryScore < 0.5 {
			c.active++
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		return order[a].earliest.Before(order[b].earliest)
	})
	if limit > 0 && len(order) > limit {
		order = order[len(order)-limit:]
	}

	out := make([]domain.CohortRetention, 0, len(order))
	for _, c := range order {
		r := ratio(float64(c.active), float64(c.members))
		curve := make([]domain.RetentionPoint, 0, len(retentionCurve)+1)
		curve = append(curve, domain.RetentionPoint{Month: 0, Retention: 100})
		for _, p := range retentionCurve {
			v := r * p.scale
			if v < p.floor {
				v = p.floor
			}
			curve = append(curve, domain.RetentionPoint{Month: p.month, Retention: v})
		}
		out = append(out, domain.CohortRetention{
			Cohort:      c.key,
			Customers:   c.members,
			ActiveRatio: r,
			Curve:       curve,
		})
	}
	return out
}

// ChurnSummary computes the headline churn numbers. High risk means a churn
// probability above 0.7.
func ChurnSummary(entities []domain.ScoredEntity) domain.ChurnMetrics {
	m := domain.ChurnMetrics{TotalCustomers: len(entities)}

	var sum float64
	for _, e := range entities {
		sum += e.PrimaryScore
		if e.PrimaryScore > 0.7 {
			m.HighRisk++
		}
		m.RevenueAtRisk += e.Metric(domain.MetricRevenueAtRisk)
		if rev := e.Features.Float(domain.ColMonthlyRevenue); rev > 0 {
			m.AnnualRevenue += rev * 12
		}
	}
	m.AvgChurnProbability = ratio(sum, float64(len(entities)))
	return m
}

// Churn builds the churn module view.
func Churn(entities []domain.ScoredEntity) *domain.ChurnAnalysis {
	return &domain.ChurnAnalysis{
		Metrics:      ChurnSummary(entities),
		Cohorts:      Cohorts(entities, MaxCohorts),
		Segments:     Heatmap(entities, ByGroup, ByRiskLevel, ByAmount(domain.ColMonthlyRevenue)),
		Distribution: LevelDistribution(entities),
	}
}
