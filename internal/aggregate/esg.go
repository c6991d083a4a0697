package aggregate

import "github.com/opensource-finance/kestrel/internal/domain"

// LowGovernanceScore is the governance score below which a company is
// counted as a governance concern.
const LowGovernanceScore = 50

// ESGSummary averages the composite and pillar scores. High risk covers the
// high and critical levels; the top performer is the first company with the
// highest composite.
func ESGSummary(entities []domain.ScoredEntity) domain.ESGSummary {
	s := domain.ESGSummary{Companies: len(entities)}
	if len(entities) == 0 {
		return s
	}

	var composite, env, social, gov float64
	for i, e := range entities {
		c := e.Metric(domain.MetricOverallESG)
		composite += c
		env += e.Features.Float(domain.ColEnvironmental)
		social += e.Features.Float(domain.ColSocial)
		g := e.Features.Float(domain.ColGovernance)
		gov += g

		if e.RiskLevel == domain.RiskHigh || e.RiskLevel == domain.RiskCritical {
			s.HighRisk++
		}
		if g < LowGovernanceScore {
			s.LowGovernance++
		}
		if i == 0 || c > s.TopScore {
			s.TopScore = c
			s.TopPerformer = e.Group
		}
	}

	n := float64(len(entities))
	s.AvgComposite = composite / n
	s.AvgEnvironmental = env / n
	s.AvgSocial = social / n
	s.AvgGovernance = gov / n
	return s
}

// ESG builds the ESG module view.
func ESG(entities []domain.ScoredEntity, params domain.ESGParams) *domain.ESGAnalysis {
	return &domain.ESGAnalysis{
		Params:       params,
		Summary:      ESGSummary(entities),
		Distribution: LevelDistribution(entities),
		Sectors:      Heatmap(entities, ByFeature(domain.ColSector), ByRiskLevel, nil),
	}
}
