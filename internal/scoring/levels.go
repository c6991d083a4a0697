package scoring

import "github.com/opensource-finance/kestrel/internal/domain"

// Level maps a primary score to the module's risk level. ESG levels depend
// on the composite and threshold and use ESGLevel instead.
func Level(m domain.Module, score float64) domain.RiskLevel {
	switch m {
	case domain.ModuleChurn:
		return ChurnLevel(score)
	case domain.ModuleCredit:
		return CreditLevel(score)
	case domain.ModuleESG:
		return ESGLevel(100*(1-score), domain.DefaultESGParams().RiskThreshold)
	default:
		return SharedLevel(score)
	}
}

// SharedLevel is the 4-tier mapping used by fraud, cyber and forecast.
func SharedLevel(score float64) domain.RiskLevel {
	switch {
	case score >= 0.8:
		return domain.RiskCritical
	case score >= 0.6:
		return domain.RiskHigh
	case score >= 0.4:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ChurnLevel is the 3-tier churn mapping.
func ChurnLevel(p float64) domain.RiskLevel {
	switch {
	case p >= 0.7:
		return domain.RiskHigh
	case p >= 0.3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// CreditLevel maps a probability of default.
func CreditLevel(pd float64) domain.RiskLevel {
	switch {
	case pd >= 0.2:
		return domain.RiskCritical
	case pd >= 0.1:
		return domain.RiskHigh
	case pd >= 0.05:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ESGLevel maps a composite ESG score against the risk threshold.
func ESGLevel(composite, threshold float64) domain.RiskLevel {
	switch {
	case composite >= threshold:
		return domain.RiskLow
	case composite >= threshold-20:
		return domain.RiskMedium
	case composite >= threshold-40:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}
