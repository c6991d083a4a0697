package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	set, err := rules.NewSet(4, nil)
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}
	t.Cleanup(func() { set.Close() })
	return New(set, nil)
}

func score(t *testing.T, s *Scorer, m domain.Module, rows []domain.Row) []domain.ScoredEntity {
	t.Helper()
	out, err := s.Score(context.Background(), m, rows, domain.DefaultParams())
	if err != nil {
		t.Fatalf("score %s: %v", m, err)
	}
	if len(out) != len(rows) {
		t.Fatalf("expected %d entities, got %d", len(rows), len(out))
	}
	return out
}

func TestScoreChurn(t *testing.T) {
	s := newTestScorer(t)

	out := score(t, s, domain.ModuleChurn, []domain.Row{
		{
			domain.ColCustomerID:        "C-1",
			domain.ColTenureMonths:      3.0,
			domain.ColLastActivityDays:  45.0,
			domain.ColSupportTickets:    7.0,
			domain.ColFeatureUsageScore: 0.2,
			domain.ColMonthlyRevenue:    100.0,
			domain.ColSegment:           "SMB",
			domain.ColSignupDate:        "2024-02-17",
		},
		{domain.ColCustomerID: "C-2", domain.ColTenureMonths: 40.0, domain.ColFeatureUsageScore: 0.8},
	})

	e := out[0]
	if e.ID != "C-1" || e.Group != "SMB" {
		t.Errorf("unexpected id/group %q/%q", e.ID, e.Group)
	}
	if e.PrimaryScore != 0.95 {
		t.Errorf("expected 0.95, got %v", e.PrimaryScore)
	}
	if e.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high, got %s", e.RiskLevel)
	}
	if got := e.Metric(domain.MetricRevenueAtRisk); math.Abs(got-100*0.95*12) > 1e-9 {
		t.Errorf("expected revenue at risk 1140, got %v", got)
	}
	if e.Labels[domain.LabelCohort] != "2024-02" {
		t.Errorf("expected cohort 2024-02, got %q", e.Labels[domain.LabelCohort])
	}

	if out[1].RiskLevel != domain.RiskLow || out[1].Group != "Unknown" {
		t.Errorf("expected low/Unknown, got %s/%s", out[1].RiskLevel, out[1].Group)
	}
	if out[1].Labels != nil {
		t.Errorf("expected no cohort without signup date, got %v", out[1].Labels)
	}
}

func TestScoreCredit(t *testing.T) {
	s := newTestScorer(t)

	out := score(t, s, domain.ModuleCredit, []domain.Row{
		{
			domain.ColLoanID:          "L-1",
			domain.ColCreditScore:     550.0,
			domain.ColDebtToIncome:    0.6,
			domain.ColEmploymentYears: 0.5,
			domain.ColPaymentHistory:  0.6,
			domain.ColDaysPastDue:     100.0,
			domain.ColLoanAmount:      10000.0,
			domain.ColCollateralValue: 8000.0,
			domain.ColCurrentBalance:  0.0,
			domain.ColLoanPurpose:     "business",
			domain.ColLoanGrade:       "E",
		},
		{domain.ColLoanID: "L-2", domain.ColCreditScore: 800.0, domain.ColPaymentHistory: 0.95},
	})

	e := out[0]
	if e.PrimaryScore != 0.95 {
		t.Errorf("expected pd 0.95, got %v", e.PrimaryScore)
	}
	// 0.45 + 0.2 (ltv 1.25) + 0.1 + 0.1
	if math.Abs(e.Secondary()-0.85) > 1e-9 {
		t.Errorf("expected lgd 0.85, got %v", e.Secondary())
	}
	if e.Metric(domain.MetricEAD) != 10000 {
		t.Errorf("expected ead from loan amount, got %v", e.Metric(domain.MetricEAD))
	}
	if math.Abs(e.Metric(domain.MetricExpectedLoss)-0.95*e.Secondary()*10000) > 1e-9 {
		t.Errorf("expected loss mismatch: %v", e.Metric(domain.MetricExpectedLoss))
	}
	if e.RiskLevel != domain.RiskCritical || e.Group != "E" {
		t.Errorf("expected critical/E, got %s/%s", e.RiskLevel, e.Group)
	}
	if _, ok := e.Features[domain.ColLoanToValue]; ok {
		t.Error("derived inputs must not leak into features")
	}

	// Both amounts zero: no collateral adjustment, lgd stays at base.
	if math.Abs(out[1].Secondary()-0.45) > 1e-9 {
		t.Errorf("expected lgd 0.45, got %v", out[1].Secondary())
	}
	if out[1].Metric(domain.MetricExpectedLoss) != 0 {
		t.Errorf("expected zero loss on zero exposure, got %v", out[1].Metric(domain.MetricExpectedLoss))
	}
}

func TestScoreFraudBackfillsVelocity(t *testing.T) {
	s := newTestScorer(t)

	rows := []domain.Row{
		{domain.ColTransactionID: "T-1", domain.ColAccountID: "A", domain.ColTimestamp: "2024-01-01T02:00:00Z", domain.ColAmount: 50.0},
	}
	for i := 0; i < 6; i++ {
		rows = append(rows, domain.Row{
			domain.ColTransactionID: "T-x",
			domain.ColAccountID:     "A",
			domain.ColTimestamp:     "2024-01-01T02:10:00Z",
			domain.ColAmount:        50.0,
		})
	}

	out := score(t, s, domain.ModuleFraud, rows)

	last := out[len(out)-1]
	if last.Features.Float(domain.ColVelocity1h) != 7 {
		t.Errorf("expected backfilled velocity 7, got %v", last.Features.Float(domain.ColVelocity1h))
	}
	// velocity_1h > 5 and same-day activity
	if math.Abs(last.PrimaryScore-0.3) > 1e-9 {
		t.Errorf("expected 0.3, got %v", last.PrimaryScore)
	}
	if !last.HasTag("High Velocity") {
		t.Errorf("expected High Velocity tag, got %v", last.Tags)
	}
	if last.Labels[domain.LabelHour] != "2" {
		t.Errorf("expected hour 2, got %q", last.Labels[domain.LabelHour])
	}

	if out[1].ID != "T-x" || out[2].ID != "T-x#2" {
		t.Errorf("expected de-duplicated ids, got %q %q", out[1].ID, out[2].ID)
	}
	if rows[0].Has(domain.ColVelocity1h) {
		t.Error("input rows must not be modified")
	}
}

func TestScoreUniqueIDs(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"suffix collides with later input", []string{"T", "T", "T#2"}, []string{"T", "T#2", "T#2#2"}},
		{"suffix collides with earlier input", []string{"T", "T#2", "T"}, []string{"T", "T#2", "T#3"}},
		{"repeated", []string{"T", "T", "T"}, []string{"T", "T#2", "T#3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := make([]domain.Row, len(tt.in))
			for i, id := range tt.in {
				rows[i] = domain.Row{domain.ColTransactionID: id, domain.ColAccountID: "A"}
			}
			out := score(t, s, domain.ModuleFraud, rows)

			seen := make(map[string]bool)
			for i, e := range out {
				if e.ID != tt.want[i] {
					t.Errorf("row %d: expected id %q, got %q", i, tt.want[i], e.ID)
				}
				if seen[e.ID] {
					t.Errorf("duplicate id %q", e.ID)
				}
				seen[e.ID] = true
			}
		})
	}
}

func TestScoreNonFiniteInputs(t *testing.T) {
	s := newTestScorer(t)

	churn := score(t, s, domain.ModuleChurn, []domain.Row{
		{domain.ColCustomerID: "C-1", domain.ColMonthlyRevenue: math.NaN(), domain.ColTenureMonths: 3.0},
	})
	if v := churn[0].Metric(domain.MetricRevenueAtRisk); v != 0 {
		t.Errorf("expected zero revenue at risk, got %v", v)
	}

	credit := score(t, s, domain.ModuleCredit, []domain.Row{
		{domain.ColLoanID: "L-1", domain.ColLoanAmount: math.Inf(1), domain.ColCurrentBalance: math.Inf(-1)},
	})
	for _, name := range credit[0].MetricNames() {
		v := credit[0].Metric(name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("metric %s is not finite: %v", name, v)
		}
	}
}

func TestScoreCyberOffHours(t *testing.T) {
	s := newTestScorer(t)

	out := score(t, s, domain.ModuleCyber, []domain.Row{
		{domain.ColEventID: "E-1", domain.ColTimestamp: "2024-01-01 23:15:00", domain.ColSessionID: "S-1"},
		{domain.ColEventID: "E-2", domain.ColTimestamp: "2024-01-01 12:00:00", domain.ColUserID: "u1"},
		{domain.ColEventID: "E-3", domain.ColTimestamp: "not a time", domain.ColUserAgent: "Googlebot"},
	})

	if math.Abs(out[0].PrimaryScore-0.1) > 1e-9 {
		t.Errorf("expected off-hours 0.1, got %v", out[0].PrimaryScore)
	}
	if out[1].PrimaryScore != 0 {
		t.Errorf("expected 0 during business hours, got %v", out[1].PrimaryScore)
	}
	if out[2].PrimaryScore != 0 {
		t.Errorf("unparseable timestamp must add nothing, got %v", out[2].PrimaryScore)
	}
	if math.Abs(out[2].Secondary()-0.3) > 1e-9 {
		t.Errorf("expected anomaly 0.3, got %v", out[2].Secondary())
	}
	if out[0].Group != "S-1" || out[1].Group != "u1" {
		t.Errorf("unexpected groups %q %q", out[0].Group, out[1].Group)
	}
	if _, ok := out[0].Features[domain.ColOffHours]; ok {
		t.Error("derived inputs must not leak into features")
	}
}

func TestScoreESG(t *testing.T) {
	s := newTestScorer(t)

	rows := []domain.Row{
		{domain.ColCompany: "Acme", domain.ColEnvironmental: 80.0, domain.ColSocial: 70.0, domain.ColGovernance: 90.0},
		{domain.ColCompany: "Dirty Co", domain.ColEnvironmental: 20.0, domain.ColSocial: 30.0, domain.ColGovernance: 40.0, domain.ColCarbonFootprint: 500.0},
	}
	out := score(t, s, domain.ModuleESG, rows)

	// 80*0.4 + 70*0.3 + 90*0.3 = 80
	if math.Abs(out[0].Metric(domain.MetricOverallESG)-80) > 1e-9 {
		t.Errorf("expected composite 80, got %v", out[0].Metric(domain.MetricOverallESG))
	}
	if math.Abs(out[0].PrimaryScore-0.2) > 1e-9 || out[0].RiskLevel != domain.RiskLow {
		t.Errorf("expected 0.2/low, got %v/%s", out[0].PrimaryScore, out[0].RiskLevel)
	}

	// 8 + 9 + 12 = 29 < 70-40
	if out[1].RiskLevel != domain.RiskCritical {
		t.Errorf("expected critical, got %s", out[1].RiskLevel)
	}
	if !out[1].HasTag("Low Governance") || !out[1].HasTag("High Carbon") {
		t.Errorf("expected governance and carbon tags, got %v", out[1].Tags)
	}

	params := domain.DefaultParams()
	params.ESG.GovernanceWeight = 1
	params.ESG.RiskThreshold = 100
	weighted, err := s.Score(context.Background(), domain.ModuleESG, rows[:1], params)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// 32 + 21 + 90 = 143, clamped to 100
	if weighted[0].Metric(domain.MetricOverallESG) != 100 || weighted[0].PrimaryScore != 0 {
		t.Errorf("expected clamped composite 100, got %v", weighted[0].Metric(domain.MetricOverallESG))
	}
}

func TestScoreForecast(t *testing.T) {
	s := newTestScorer(t)

	out := score(t, s, domain.ModuleForecast, []domain.Row{
		{domain.ColPeriod: "2024-01", domain.ColRevenue: 100.0},
		{domain.ColPeriod: "2024-02", domain.ColRevenue: 100.0},
		{domain.ColPeriod: "2024-03", domain.ColRevenue: 160.0, domain.ColSpend: 10.0},
		{domain.ColPeriod: "2024-04", domain.ColRevenue: 0.0},
	})

	if out[0].PrimaryScore != 0 || out[1].PrimaryScore != 0 {
		t.Errorf("expected flat periods at 0, got %v %v", out[0].PrimaryScore, out[1].PrimaryScore)
	}
	if math.Abs(out[2].PrimaryScore-0.6) > 1e-9 || out[2].RiskLevel != domain.RiskHigh {
		t.Errorf("expected 0.6/high, got %v/%s", out[2].PrimaryScore, out[2].RiskLevel)
	}
	if !out[2].HasTag("Revenue Spike") || !out[2].HasTag("Promo Period") {
		t.Errorf("expected spike and promo tags, got %v", out[2].Tags)
	}
	if out[3].PrimaryScore != 1 || !out[3].HasTag("Revenue Drop") {
		t.Errorf("expected clamped drop, got %v %v", out[3].PrimaryScore, out[3].Tags)
	}
	if out[3].Metric(domain.MetricTrailingMean) != 120 {
		t.Errorf("expected trailing mean 120, got %v", out[3].Metric(domain.MetricTrailingMean))
	}
}

func TestScoreEmptyAndUnknown(t *testing.T) {
	s := newTestScorer(t)

	for _, m := range domain.Modules() {
		out, err := s.Score(context.Background(), m, nil, domain.DefaultParams())
		if err != nil {
			t.Errorf("%s: unexpected error: %v", m, err)
		}
		if len(out) != 0 {
			t.Errorf("%s: expected no entities, got %d", m, len(out))
		}
	}

	_, err := s.Score(context.Background(), "weather", nil, domain.DefaultParams())
	if !errors.Is(err, domain.ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
}

func TestLevelsMonotonic(t *testing.T) {
	for _, m := range domain.Modules() {
		prev := domain.RiskLow
		for i := 0; i <= 1000; i++ {
			score := float64(i) / 1000
			level := Level(m, score)
			if level.Rank() < 0 {
				t.Fatalf("%s: unknown level %q", m, level)
			}
			if level.Rank() < prev.Rank() {
				t.Fatalf("%s: level decreased at %v (%s after %s)", m, score, level, prev)
			}
			prev = level
		}
	}
}

func TestLevelBoundaries(t *testing.T) {
	tests := []struct {
		name string
		got  domain.RiskLevel
		want domain.RiskLevel
	}{
		{"shared 0.8", SharedLevel(0.8), domain.RiskCritical},
		{"shared 0.79", SharedLevel(0.79), domain.RiskHigh},
		{"shared 0.4", SharedLevel(0.4), domain.RiskMedium},
		{"churn 0.7", ChurnLevel(0.7), domain.RiskHigh},
		{"churn 0.29", ChurnLevel(0.29), domain.RiskLow},
		{"credit 0.2", CreditLevel(0.2), domain.RiskCritical},
		{"credit 0.05", CreditLevel(0.05), domain.RiskMedium},
		{"esg at threshold", ESGLevel(70, 70), domain.RiskLow},
		{"esg 50", ESGLevel(50, 70), domain.RiskMedium},
		{"esg 30", ESGLevel(30, 70), domain.RiskHigh},
		{"esg 29", ESGLevel(29, 70), domain.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}
