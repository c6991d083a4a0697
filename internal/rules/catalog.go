package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in rule set and composite IDs.
const (
	RuleSetChurn         = "churn-probability"
	RuleSetCreditPD      = "credit-pd"
	RuleSetCreditLGD     = "credit-lgd"
	RuleSetFraud         = "fraud-score"
	RuleSetThreat        = "threat-score"
	RuleSetAnomaly       = "anomaly-score"
	RuleSetESGFlags      = "esg-flags"
	RuleSetForecastFlags = "forecast-flags"

	CompositeESG = "esg-composite"
)

// Schemas returns the typed variables each module's predicates may use.
func Schemas() map[domain.Module]Schema {
	return map[domain.Module]Schema{
		domain.ModuleChurn: {
			{Name: domain.ColTenureMonths, Kind: KindDouble},
			{Name: domain.ColLastActivityDays, Kind: KindDouble},
			{Name: domain.ColSupportTickets, Kind: KindDouble},
			{Name: domain.ColFeatureUsageScore, Kind: KindDouble},
			{Name: domain.ColMonthlyRevenue, Kind: KindDouble},
			{Name: domain.ColSegment, Kind: KindString},
		},
		domain.ModuleCredit: {
			{Name: domain.ColCreditScore, Kind: KindDouble},
			{Name: domain.ColDebtToIncome, Kind: KindDouble},
			{Name: domain.ColEmploymentYears, Kind: KindDouble},
			{Name: domain.ColPaymentHistory, Kind: KindDouble},
			{Name: domain.ColDaysPastDue, Kind: KindDouble},
			{Name: domain.ColLoanAmount, Kind: KindDouble},
			{Name: domain.ColCollateralValue, Kind: KindDouble},
			{Name: domain.ColCurrentBalance, Kind: KindDouble},
			{Name: domain.ColLoanToValue, Kind: KindDouble},
			{Name: domain.ColLTVKnown, Kind: KindBool},
			{Name: domain.ColLoanPurpose, Kind: KindString},
			{Name: domain.ColLoanGrade, Kind: KindString},
		},
		domain.ModuleFraud: {
			{Name: domain.ColAmount, Kind: KindDouble},
			{Name: domain.ColVelocity1h, Kind: KindDouble},
			{Name: domain.ColVelocity24h, Kind: KindDouble},
			{Name: domain.ColDaysSinceLastTxn, Kind: KindDouble},
			{Name: domain.ColIsNightTime, Kind: KindBool},
			{Name: domain.ColIsWeekend, Kind: KindBool},
			{Name: domain.ColCrossBorder, Kind: KindBool},
			{Name: domain.ColHighRiskMerchant, Kind: KindBool},
			{Name: domain.ColTransactionType, Kind: KindString},
		},
		domain.ModuleCyber: {
			{Name: domain.ColResponseCode, Kind: KindDouble},
			{Name: domain.ColFailedAttempts, Kind: KindDouble},
			{Name: domain.ColRequestDuration, Kind: KindDouble},
			{Name: domain.ColBytesTransferred, Kind: KindDouble},
			{Name: domain.ColPrivilegeEscalation, Kind: KindBool},
			{Name: domain.ColSuspiciousPayload, Kind: KindBool},
			{Name: domain.ColOffHours, Kind: KindBool},
			{Name: domain.ColEventType, Kind: KindString},
			{Name: domain.ColUserAgent, Kind: KindString},
			{Name: domain.ColResource, Kind: KindString},
			{Name: domain.ColGeolocation, Kind: KindString},
			{Name: domain.ColDeviceFingerprint, Kind: KindString},
		},
		domain.ModuleESG: {
			{Name: domain.ColEnvironmental, Kind: KindDouble},
			{Name: domain.ColSocial, Kind: KindDouble},
			{Name: domain.ColGovernance, Kind: KindDouble},
			{Name: domain.ColCarbonFootprint, Kind: KindDouble},
			{Name: domain.ColDiversityIndex, Kind: KindDouble},
			{Name: domain.ColBoardIndependence, Kind: KindDouble},
			{Name: domain.ColSector, Kind: KindString},
		},
		domain.ModuleForecast: {
			{Name: domain.ColRevenue, Kind: KindDouble},
			{Name: domain.ColSpend, Kind: KindDouble},
			{Name: domain.MetricDeviation, Kind: KindDouble},
			{Name: domain.ColCampaign, Kind: KindString},
		},
	}
}

// BuiltinRuleSets returns the default scoring tables per module.
func BuiltinRuleSets() map[domain.Module][]*domain.RuleSet {
	return map[domain.Module][]*domain.RuleSet{
		domain.ModuleChurn:    {churnRuleSet()},
		domain.ModuleCredit:   {creditPDRuleSet(), creditLGDRuleSet()},
		domain.ModuleFraud:    {fraudRuleSet()},
		domain.ModuleCyber:    {threatRuleSet(), anomalyRuleSet()},
		domain.ModuleESG:      {esgFlagRuleSet()},
		domain.ModuleForecast: {forecastFlagRuleSet()},
	}
}

// BuiltinComposites returns the default weighted composites.
func BuiltinComposites() []*domain.Composite {
	return []*domain.Composite{
		{
			ID:   CompositeESG,
			Name: "Overall ESG",
			Components: []domain.Weighted{
				{Column: domain.ColEnvironmental, Weight: 0.4},
				{Column: domain.ColSocial, Weight: 0.3},
				{Column: domain.ColGovernance, Weight: 0.3},
			},
			Threshold: 70,
			Min:       0,
			Max:       100,
		},
	}
}

func churnRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetChurn,
		Name:      "Churn Probability",
		Transform: domain.TransformNone,
		Floor:     0,
		Ceiling:   0.95,
		Factors: []domain.Factor{
			{Name: "tenure", Bands: []domain.Band{
				{When: "tenure_months < 6.0", Points: 0.4},
				{When: "tenure_months < 12.0", Points: 0.2},
				{When: "true", Points: 0.1},
			}},
			{Name: "inactivity", Bands: []domain.Band{
				{When: "last_activity_days > 30.0", Points: 0.3},
				{When: "last_activity_days > 14.0", Points: 0.15},
			}},
			{Name: "support_load", Bands: []domain.Band{
				{When: "support_tickets > 5.0", Points: 0.2},
				{When: "support_tickets > 2.0", Points: 0.1},
			}},
			{Name: "feature_usage", Bands: []domain.Band{
				{When: "feature_usage_score < 0.3", Points: 0.25},
				{When: "feature_usage_score < 0.6", Points: 0.1},
			}},
		},
	}
}

func creditPDRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:          RuleSetCreditPD,
		Name:        "Probability of Default",
		Description: "Additive log-odds scorecard mapped through a logistic transform",
		Base:        -2.5,
		Transform:   domain.TransformLogistic,
		Floor:       0.001,
		Ceiling:     0.95,
		Factors: []domain.Factor{
			{Name: "credit_score", Bands: []domain.Band{
				{When: "credit_score < 600.0", Points: 1.5},
				{When: "credit_score < 650.0", Points: 1.0},
				{When: "credit_score < 700.0", Points: 0.5},
				{When: "credit_score < 750.0", Points: 0.2},
				{When: "true", Points: -0.3},
			}},
			{Name: "debt_to_income", Bands: []domain.Band{
				{When: "debt_to_income > 0.5", Points: 1.2},
				{When: "debt_to_income > 0.4", Points: 0.8},
				{When: "debt_to_income > 0.3", Points: 0.4},
			}},
			{Name: "employment", Bands: []domain.Band{
				{When: "employment_years < 1.0", Points: 0.8},
				{When: "employment_years < 2.0", Points: 0.4},
				{When: "employment_years > 5.0", Points: -0.2},
			}},
			{Name: "payment_history", Bands: []domain.Band{
				{When: "payment_history_score < 0.7", Points: 1.0},
				{When: "payment_history_score < 0.8", Points: 0.5},
				{When: "payment_history_score > 0.9", Points: -0.3},
			}},
			{Name: "delinquency", Bands: []domain.Band{
				{When: "days_past_due > 90.0", Points: 2.0},
				{When: "days_past_due > 30.0", Points: 1.0},
				{When: "days_past_due > 0.0", Points: 0.5},
			}},
		},
		Tags: []domain.TagRule{
			{Label: "Seriously Delinquent", When: "days_past_due > 90.0"},
			{Label: "High Debt-to-Income", When: "debt_to_income > 0.5"},
			{Label: "Subprime", When: "credit_score > 0.0 && credit_score < 600.0"},
		},
	}
}

func creditLGDRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetCreditLGD,
		Name:      "Loss Given Default",
		Base:      0.45,
		Transform: domain.TransformNone,
		Floor:     0.1,
		Ceiling:   0.9,
		Factors: []domain.Factor{
			{Name: "collateral", Bands: []domain.Band{
				{When: "ltv_known && loan_to_value > 0.9", Points: 0.2},
				{When: "ltv_known && loan_to_value > 0.8", Points: 0.1},
				{When: "ltv_known && loan_to_value < 0.6", Points: -0.15},
			}},
			{Name: "purpose", Bands: []domain.Band{
				{When: `loan_purpose == "business"`, Points: 0.1},
				{When: `loan_purpose == "personal"`, Points: 0.05},
				{When: `loan_purpose == "home"`, Points: -0.1},
			}},
			{Name: "grade", Bands: []domain.Band{
				{When: `loan_grade == "A"`, Points: -0.1},
				{When: `loan_grade == "B"`, Points: -0.05},
				{When: `loan_grade == "D" || loan_grade == "E"`, Points: 0.1},
			}},
		},
	}
}

func fraudRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetFraud,
		Name:      "Fraud Score",
		Transform: domain.TransformNone,
		Floor:     0,
		Ceiling:   1,
		Factors: []domain.Factor{
			{Name: "amount", Bands: []domain.Band{
				{When: "amount > 10000.0", Points: 0.3},
				{When: "amount > 5000.0", Points: 0.2},
				{When: "amount > 1000.0", Points: 0.1},
			}},
			{Name: "night_time", Bands: []domain.Band{
				{When: "is_night_time", Points: 0.15},
			}},
			{Name: "weekend", Bands: []domain.Band{
				{When: "is_weekend", Points: 0.1},
			}},
			{Name: "velocity_1h", Bands: []domain.Band{
				{When: "velocity_1h > 5.0", Points: 0.25},
				{When: "velocity_1h > 3.0", Points: 0.15},
			}},
			{Name: "velocity_24h", Bands: []domain.Band{
				{When: "velocity_24h > 20.0", Points: 0.2},
				{When: "velocity_24h > 10.0", Points: 0.1},
			}},
			{Name: "cross_border", Bands: []domain.Band{
				{When: "cross_border", Points: 0.2},
			}},
			{Name: "merchant", Bands: []domain.Band{
				{When: "high_risk_merchant", Points: 0.25},
			}},
			{Name: "dormancy", Bands: []domain.Band{
				{When: "days_since_last_transaction > 30.0", Points: 0.1},
				{When: "days_since_last_transaction == 0.0", Points: 0.05},
			}},
			{Name: "transaction_type", Bands: []domain.Band{
				{When: `transaction_type == "cash_advance"`, Points: 0.2},
				{When: `transaction_type == "online"`, Points: 0.1},
			}},
		},
		Tags: []domain.TagRule{
			{Label: "Large Amount", When: "amount > 10000.0"},
			{Label: "High Velocity", When: "velocity_1h > 5.0"},
			{Label: "Cross Border", When: "cross_border"},
			{Label: "Night Large Transaction", When: "is_night_time && amount > 1000.0"},
			{Label: "High Risk Merchant", When: "high_risk_merchant"},
			{Label: "Dormant Account Activity", When: "days_since_last_transaction > 60.0"},
		},
	}
}

func threatRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetThreat,
		Name:      "Threat Score",
		Transform: domain.TransformNone,
		Floor:     0,
		Ceiling:   1,
		Factors: []domain.Factor{
			{Name: "response_code", Bands: []domain.Band{
				{When: "response_code >= 400.0 && response_code < 500.0", Points: 0.2},
				{When: "response_code >= 500.0", Points: 0.3},
			}},
			{Name: "failed_logins", Bands: []domain.Band{
				{When: "failed_login_attempts > 5.0", Points: 0.4},
				{When: "failed_login_attempts > 2.0", Points: 0.2},
			}},
			{Name: "privilege_escalation", Bands: []domain.Band{
				{When: "privilege_escalation", Points: 0.5},
			}},
			{Name: "payload", Bands: []domain.Band{
				{When: "suspicious_payload", Points: 0.4},
			}},
			{Name: "request_duration", Bands: []domain.Band{
				{When: "request_duration > 10000.0", Points: 0.3},
				{When: "request_duration > 5000.0", Points: 0.15},
			}},
			{Name: "bytes_transferred", Bands: []domain.Band{
				{When: "bytes_transferred > 10000000.0", Points: 0.25},
				{When: "bytes_transferred > 1000000.0", Points: 0.1},
			}},
			{Name: "event_type", Bands: []domain.Band{
				{When: `event_type == "admin_access"`, Points: 0.2},
				{When: `event_type == "system_modification"`, Points: 0.3},
				{When: `event_type == "data_access"`, Points: 0.15},
			}},
			{Name: "off_hours", Bands: []domain.Band{
				{When: "off_hours", Points: 0.1},
			}},
		},
		Tags: []domain.TagRule{
			{Label: "Brute Force", When: "failed_login_attempts > 3.0"},
			{Label: "Privilege Escalation", When: "privilege_escalation"},
			{Label: "Malicious Payload", When: "suspicious_payload"},
			{Label: "Data Exfiltration", When: "bytes_transferred > 5000000.0"},
			{Label: "DoS Attack", When: "request_duration > 8000.0"},
			{Label: "Unauthorized Access", When: "response_code == 401.0"},
			{Label: "System Tampering", When: `event_type == "system_modification"`},
		},
	}
}

func anomalyRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetAnomaly,
		Name:      "Behavioral Anomaly Score",
		Transform: domain.TransformNone,
		Floor:     0,
		Ceiling:   1,
		Factors: []domain.Factor{
			{Name: "user_agent", Bands: []domain.Band{
				{When: `user_agent.contains("bot") || user_agent.contains("crawler")`, Points: 0.3},
			}},
			{Name: "resource", Bands: []domain.Band{
				{When: `resource_accessed.contains("admin") || resource_accessed.contains("config")`, Points: 0.2},
			}},
			{Name: "geolocation", Bands: []domain.Band{
				{When: `geolocation.contains("Unknown") || geolocation.contains("TOR") || geolocation.contains("VPN")`, Points: 0.3},
			}},
			{Name: "device_fingerprint", Bands: []domain.Band{
				{When: `device_fingerprint == "unknown" || device_fingerprint == "masked"`, Points: 0.2},
			}},
		},
	}
}

func esgFlagRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetESGFlags,
		Name:      "ESG Flags",
		Transform: domain.TransformNone,
		Tags: []domain.TagRule{
			{Label: "Low Governance", When: "governance_score < 50.0"},
			{Label: "High Carbon", When: "carbon_footprint > 200.0"},
			{Label: "Low Board Independence", When: "board_independence > 0.0 && board_independence < 50.0"},
			{Label: "Low Diversity", When: "diversity_index > 0.0 && diversity_index < 40.0"},
		},
	}
}

func forecastFlagRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		ID:        RuleSetForecastFlags,
		Name:      "Forecast Flags",
		Transform: domain.TransformNone,
		Tags: []domain.TagRule{
			{Label: "Revenue Spike", When: "deviation > 0.25"},
			{Label: "Revenue Drop", When: "deviation < -0.25"},
			{Label: "Promo Period", When: "spend > 0.0"},
		},
	}
}
