// Package domain holds the types shared by every Kestrel component.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Module identifies one of the risk intelligence domains.
type Module string

const (
	ModuleChurn    Module = "churn"
	ModuleCredit   Module = "credit"
	ModuleFraud    Module = "fraud"
	ModuleCyber    Module = "cyber"
	ModuleESG      Module = "esg"
	ModuleForecast Module = "forecast"
)

// Sentinel errors.
var (
	ErrUnknownModule = errors.New("unknown module")
	ErrNotFound      = errors.New("record not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// Modules returns every supported module in display order.
func Modules() []Module {
	return []Module{
		ModuleChurn,
		ModuleCredit,
		ModuleFraud,
		ModuleCyber,
		ModuleForecast,
		ModuleESG,
	}
}

// ParseModule resolves a module name, accepting a few common aliases.
func ParseModule(name string) (Module, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "churn", "customer", "customer-churn":
		return ModuleChurn, nil
	case "credit", "credit-risk", "lending":
		return ModuleCredit, nil
	case "fraud", "fraud-detection":
		return ModuleFraud, nil
	case "cyber", "cybersecurity", "security":
		return ModuleCyber, nil
	case "esg", "sustainability":
		return ModuleESG, nil
	case "forecast", "forecasting", "revenue":
		return ModuleForecast, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
}

// Valid reports whether m is a supported module.
func (m Module) Valid() bool {
	for _, known := range Modules() {
		if m == known {
			return true
		}
	}
	return false
}

// Title returns a human readable module name.
func (m Module) Title() string {
	switch m {
	case ModuleChurn:
		return "Customer Churn"
	case ModuleCredit:
		return "Credit Risk"
	case ModuleFraud:
		return "Fraud Detection"
	case ModuleCyber:
		return "Cybersecurity"
	case ModuleESG:
		return "ESG Risk"
	case ModuleForecast:
		return "Revenue Forecasting"
	default:
		return string(m)
	}
}

// Column names used by the scoring rules and aggregators.
const (
	// churn
	ColCustomerID        = "customer_id"
	ColSignupDate        = "signup_date"
	ColTenureMonths      = "tenure_months"
	ColMonthlyRevenue    = "monthly_revenue"
	ColSupportTickets    = "support_tickets"
	ColLastActivityDays  = "last_activity_days"
	ColFeatureUsageScore = "feature_usage_score"
	ColSegment           = "segment"

	// credit
	ColLoanID          = "loan_id"
	ColLoanAmount      = "loan_amount"
	ColCreditScore     = "credit_score"
	ColDebtToIncome    = "debt_to_income"
	ColEmploymentYears = "employment_years"
	ColPaymentHistory  = "payment_history_score"
	ColCollateralValue = "collateral_value"
	ColLoanPurpose     = "loan_purpose"
	ColLoanGrade       = "loan_grade"
	ColCurrentBalance  = "current_balance"
	ColDaysPastDue     = "days_past_due"

	// fraud
	ColTransactionID    = "transaction_id"
	ColAccountID        = "account_id"
	ColAmount           = "amount"
	ColTimestamp        = "timestamp"
	ColDeviceID         = "device_id"
	ColIPAddress        = "ip_address"
	ColTransactionType  = "transaction_type"
	ColIsNightTime      = "is_night_time"
	ColIsWeekend        = "is_weekend"
	ColCrossBorder      = "cross_border"
	ColHighRiskMerchant = "high_risk_merchant"
	ColVelocity1h       = "velocity_1h"
	ColVelocity24h      = "velocity_24h"
	ColDaysSinceLastTxn = "days_since_last_transaction"
	ColSessionID        = "session_id"

	// cyber
	ColEventID             = "event_id"
	ColUserID              = "user_id"
	ColFailedAttempts      = "failed_login_attempts"
	ColPrivilegeEscalation = "privilege_escalation"
	ColSuspiciousPayload   = "suspicious_payload"
	ColBytesTransferred    = "bytes_transferred"
	ColRequestDuration     = "request_duration"
	ColResponseCode        = "response_code"
	ColEventType           = "event_type"
	ColUserAgent           = "user_agent"
	ColResource            = "resource_accessed"
	ColGeolocation         = "geolocation"
	ColDeviceFingerprint   = "device_fingerprint"

	// esg
	ColCompany           = "company"
	ColSector            = "sector"
	ColEnvironmental     = "environmental_score"
	ColSocial            = "social_score"
	ColGovernance        = "governance_score"
	ColCarbonFootprint   = "carbon_footprint"
	ColDiversityIndex    = "diversity_index"
	ColBoardIndependence = "board_independence"

	// forecast
	ColPeriod   = "period"
	ColRevenue  = "revenue"
	ColCampaign = "campaign"
	ColSpend    = "spend"

	// derived
	ColLoanToValue = "loan_to_value"
	ColLTVKnown    = "ltv_known"
	ColOffHours    = "off_hours"
)
