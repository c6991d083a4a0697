package rules

import (
	"context"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	s, err := NewSet(4, nil)
	if err != nil {
		t.Fatalf("failed to build rule set: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func evaluate(t *testing.T, s *Set, m domain.Module, id string, row domain.Row) domain.RuleResult {
	t.Helper()
	e, err := s.Engine(m)
	if err != nil {
		t.Fatalf("engine %s: %v", m, err)
	}
	res, err := e.Evaluate(context.Background(), id, row)
	if err != nil {
		t.Fatalf("evaluate %s: %v", id, err)
	}
	if res.Errors != 0 {
		t.Fatalf("evaluate %s: %d predicate errors", id, res.Errors)
	}
	return res
}

func TestBuiltinsCompile(t *testing.T) {
	s := newTestSet(t)

	want := 0
	for _, sets := range BuiltinRuleSets() {
		want += len(sets)
	}
	if s.Count() != want {
		t.Errorf("expected %d rule sets, got %d", want, s.Count())
	}
	if s.Composites().CompositeCount() != 1 {
		t.Errorf("expected 1 composite, got %d", s.Composites().CompositeCount())
	}

	for _, m := range domain.Modules() {
		sets, err := s.RuleSets(m)
		if err != nil {
			t.Fatalf("rule sets %s: %v", m, err)
		}
		if len(sets) == 0 {
			t.Errorf("module %s has no rule sets", m)
		}
	}

	if _, err := s.Engine("weather"); err == nil {
		t.Error("expected error for unknown module")
	}
}

func TestChurnClampsToCeiling(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleChurn, RuleSetChurn, domain.Row{
		domain.ColTenureMonths:      3.0,
		domain.ColLastActivityDays:  45.0,
		domain.ColSupportTickets:    7.0,
		domain.ColFeatureUsageScore: 0.2,
	})

	if math.Abs(res.Raw-1.15) > 1e-9 {
		t.Errorf("expected raw 1.15, got %v", res.Raw)
	}
	if res.Score != 0.95 {
		t.Errorf("expected 0.95, got %v", res.Score)
	}
	if len(res.Contributions) != 4 {
		t.Errorf("expected 4 contributions, got %d", len(res.Contributions))
	}
}

func TestChurnTable(t *testing.T) {
	s := newTestSet(t)

	tests := []struct {
		name string
		row  domain.Row
		want float64
	}{
		{"loyal customer", domain.Row{
			domain.ColTenureMonths: 36.0, domain.ColLastActivityDays: 2.0,
			domain.ColSupportTickets: 0.0, domain.ColFeatureUsageScore: 0.9,
		}, 0.1},
		{"mid tenure, drifting", domain.Row{
			domain.ColTenureMonths: 8.0, domain.ColLastActivityDays: 20.0,
			domain.ColSupportTickets: 3.0, domain.ColFeatureUsageScore: 0.5,
		}, 0.2 + 0.15 + 0.1 + 0.1},
		{"empty row", domain.Row{}, 0.4 + 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, s, domain.ModuleChurn, RuleSetChurn, tt.row)
			if math.Abs(res.Score-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, res.Score)
			}
		})
	}
}

func TestCreditPDLogOdds(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleCredit, RuleSetCreditPD, domain.Row{
		domain.ColCreditScore:     550.0,
		domain.ColDebtToIncome:    0.6,
		domain.ColEmploymentYears: 0.5,
		domain.ColPaymentHistory:  0.6,
		domain.ColDaysPastDue:     100.0,
	})

	if math.Abs(res.Raw-4.0) > 1e-9 {
		t.Errorf("expected log-odds 4.0, got %v", res.Raw)
	}
	if res.Score != 0.95 {
		t.Errorf("expected pd clamped to 0.95, got %v", res.Score)
	}
	if len(res.Tags) != 3 {
		t.Errorf("expected 3 tags, got %v", res.Tags)
	}
}

func TestCreditPDPrime(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleCredit, RuleSetCreditPD, domain.Row{
		domain.ColCreditScore:     780.0,
		domain.ColDebtToIncome:    0.2,
		domain.ColEmploymentYears: 10.0,
		domain.ColPaymentHistory:  0.95,
		domain.ColDaysPastDue:     0.0,
	})

	// -2.5 - 0.3 - 0.2 - 0.3
	want := 1 / (1 + math.Exp(3.3))
	if math.Abs(res.Score-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, res.Score)
	}
}

func TestCreditLGD(t *testing.T) {
	s := newTestSet(t)

	tests := []struct {
		name string
		row  domain.Row
		want float64
	}{
		{"underwater business loan grade E", domain.Row{
			domain.ColLoanToValue: 1.2, domain.ColLTVKnown: true,
			domain.ColLoanPurpose: "business", domain.ColLoanGrade: "E",
		}, 0.45 + 0.2 + 0.1 + 0.1},
		{"secured home loan grade A", domain.Row{
			domain.ColLoanToValue: 0.5, domain.ColLTVKnown: true,
			domain.ColLoanPurpose: "home", domain.ColLoanGrade: "A",
		}, 0.45 - 0.15 - 0.1 - 0.1},
		{"unknown ltv makes no adjustment", domain.Row{
			domain.ColLoanToValue: 0.0, domain.ColLTVKnown: false,
			domain.ColLoanPurpose: "auto", domain.ColLoanGrade: "C",
		}, 0.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, s, domain.ModuleCredit, RuleSetCreditLGD, tt.row)
			if math.Abs(res.Score-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, res.Score)
			}
		})
	}
}

func TestFraudScoreAndFlags(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleFraud, RuleSetFraud, domain.Row{
		domain.ColAmount:           15000.0,
		domain.ColIsNightTime:      true,
		domain.ColIsWeekend:        true,
		domain.ColVelocity1h:       6.0,
		domain.ColVelocity24h:      25.0,
		domain.ColCrossBorder:      true,
		domain.ColHighRiskMerchant: true,
		domain.ColDaysSinceLastTxn: 90.0,
		domain.ColTransactionType:  "cash_advance",
	})

	if res.Score != 1 {
		t.Errorf("expected score clamped to 1, got %v", res.Score)
	}

	want := []string{
		"Large Amount", "High Velocity", "Cross Border",
		"Night Large Transaction", "High Risk Merchant", "Dormant Account Activity",
	}
	if len(res.Tags) != len(want) {
		t.Fatalf("expected %d tags, got %v", len(want), res.Tags)
	}
	for i := range want {
		if res.Tags[i] != want[i] {
			t.Errorf("tag %d: expected %q, got %q", i, want[i], res.Tags[i])
		}
	}
}

func TestFraudSameDayActivity(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleFraud, RuleSetFraud, domain.Row{
		domain.ColAmount:           1500.0,
		domain.ColDaysSinceLastTxn: 0.0,
		domain.ColTransactionType:  "online",
	})

	if math.Abs(res.Score-0.25) > 1e-9 {
		t.Errorf("expected 0.25, got %v", res.Score)
	}
}

func TestThreatAndAnomaly(t *testing.T) {
	s := newTestSet(t)

	row := domain.Row{
		domain.ColResponseCode:      401.0,
		domain.ColFailedAttempts:    4.0,
		domain.ColRequestDuration:   6000.0,
		domain.ColBytesTransferred:  2000000.0,
		domain.ColEventType:         "data_access",
		domain.ColOffHours:          true,
		domain.ColUserAgent:         "python-bot/1.0",
		domain.ColResource:          "/admin/users",
		domain.ColGeolocation:       "TOR exit node",
		domain.ColDeviceFingerprint: "masked",
	}

	threat := evaluate(t, s, domain.ModuleCyber, RuleSetThreat, row)
	// 0.2 + 0.2 + 0.15 + 0.1 + 0.15 + 0.1
	if math.Abs(threat.Score-0.9) > 1e-9 {
		t.Errorf("expected threat 0.9, got %v", threat.Score)
	}
	if len(threat.Tags) != 2 || threat.Tags[0] != "Brute Force" || threat.Tags[1] != "Unauthorized Access" {
		t.Errorf("expected [Brute Force Unauthorized Access], got %v", threat.Tags)
	}

	anomaly := evaluate(t, s, domain.ModuleCyber, RuleSetAnomaly, row)
	if math.Abs(anomaly.Score-1) > 1e-9 {
		t.Errorf("expected anomaly 1, got %v", anomaly.Score)
	}
}

func TestThreatServerErrorBand(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleCyber, RuleSetThreat, domain.Row{
		domain.ColResponseCode: 503.0,
	})
	if math.Abs(res.Score-0.3) > 1e-9 {
		t.Errorf("expected 0.3, got %v", res.Score)
	}
}

func TestESGFlags(t *testing.T) {
	s := newTestSet(t)

	res := evaluate(t, s, domain.ModuleESG, RuleSetESGFlags, domain.Row{
		domain.ColGovernance:        45.0,
		domain.ColCarbonFootprint:   250.0,
		domain.ColBoardIndependence: 30.0,
		domain.ColDiversityIndex:    55.0,
	})

	if len(res.Tags) != 3 {
		t.Fatalf("expected 3 tags, got %v", res.Tags)
	}
	if res.Tags[0] != "Low Governance" || res.Tags[1] != "High Carbon" || res.Tags[2] != "Low Board Independence" {
		t.Errorf("unexpected tags %v", res.Tags)
	}
}

func TestOverridesReplaceBuiltins(t *testing.T) {
	f, err := ParseFile([]byte(`
rule_sets:
  - module: churn
    id: churn-probability
    name: Strict churn
    ceiling: 1
    factors:
      - name: tenure
        bands:
          - when: "tenure_months < 24.0"
            points: 0.8
  - module: fraud
    id: fraud-weekend
    ceiling: 1
    factors:
      - name: weekend
        bands:
          - when: "is_weekend"
            points: 0.5
composites:
  - id: esg-composite
    components:
      - column: governance_score
        weight: 1
    threshold: 60
    max: 100
`))
	if err != nil {
		t.Fatalf("failed to parse rules file: %v", err)
	}

	s, err := NewSet(2, f)
	if err != nil {
		t.Fatalf("failed to build rule set: %v", err)
	}
	defer s.Close()

	res := evaluate(t, s, domain.ModuleChurn, RuleSetChurn, domain.Row{domain.ColTenureMonths: 12.0})
	if res.Score != 0.8 {
		t.Errorf("expected override score 0.8, got %v", res.Score)
	}

	fraud, _ := s.RuleSets(domain.ModuleFraud)
	if len(fraud) != 2 || fraud[1].ID != "fraud-weekend" {
		t.Errorf("expected appended fraud rule set, got %d sets", len(fraud))
	}

	c, _ := s.Composites().Composite(CompositeESG)
	if c.Threshold != 60 || len(c.Components) != 1 {
		t.Errorf("expected overridden composite, got %+v", c)
	}
}

func TestParseFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "rule_sets: [\n"},
		{"unknown module", "rule_sets:\n  - module: weather\n    id: x\n"},
		{"missing id", "rule_sets:\n  - module: churn\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFile([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOverrideCompileErrorFailsSet(t *testing.T) {
	f, err := ParseFile([]byte(`
rule_sets:
  - module: credit
    id: credit-pd
    factors:
      - name: score
        bands:
          - when: "credit_score >"
            points: 1
`))
	if err != nil {
		t.Fatalf("failed to parse rules file: %v", err)
	}

	if _, err := NewSet(2, f); err == nil {
		t.Error("expected compile error to fail the rule set")
	}
}
