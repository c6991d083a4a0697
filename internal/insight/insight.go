// Package insight turns aggregated analysis results into fixed-template
// summary sentences. Output is deterministic for a given report.
package insight

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NoData is the single insight of an empty dataset.
const NoData = "No records available for analysis"

// Summarize returns the insights for a report. The module view matching
// r.Module must be populated unless the report has no entities.
func Summarize(r *domain.Report) []string {
	if r == nil || len(r.Entities) == 0 {
		return []string{NoData}
	}

	switch r.Module {
	case domain.ModuleChurn:
		if r.Churn != nil {
			return Churn(r.Entities, r.Churn)
		}
	case domain.ModuleCredit:
		if r.Credit != nil {
			return Credit(r.Entities, r.Credit)
		}
	case domain.ModuleFraud:
		if r.Fraud != nil {
			return Fraud(r.Entities, r.Fraud)
		}
	case domain.ModuleCyber:
		if r.Cyber != nil {
			return Cyber(r.Entities, r.Cyber)
		}
	case domain.ModuleESG:
		if r.ESG != nil {
			return ESG(r.ESG)
		}
	case domain.ModuleForecast:
		if r.Forecast != nil {
			return Forecast(r.Entities, r.Forecast)
		}
	}
	return []string{NoData}
}

// Churn summarises churn risk and the riskiest segment.
func Churn(entities []domain.ScoredEntity, a *domain.ChurnAnalysis) []string {
	m := a.Metrics
	out := []string{
		fmt.Sprintf("%s customers (%s%%) are at high risk of churning",
			count(m.HighRisk), share(m.HighRisk, m.TotalCustomers)),
		fmt.Sprintf("Total revenue at risk: %s (%s%% of annual revenue)",
			thousands(m.RevenueAtRisk), pct(ratio(m.RevenueAtRisk, m.AnnualRevenue), 1)),
	}

	type tally struct{ total, high int }
	index := make(map[string]int)
	keys := make([]string, 0)
	tallies := make([]tally, 0)
	for _, e := range entities {
		i, ok := index[e.Group]
		if !ok {
			i = len(keys)
			index[e.Group] = i
			keys = append(keys, e.Group)
			tallies = append(tallies, tally{})
		}
		tallies[i].total++
		if e.PrimaryScore > 0.7 {
			tallies[i].high++
		}
	}

	best := -1
	var bestRate float64
	for i, t := range tallies {
		rate := ratio(float64(t.high), float64(t.total))
		if best < 0 || rate > bestRate {
			best, bestRate = i, rate
		}
	}
	if best >= 0 {
		out = append(out, fmt.Sprintf("%s segment has the highest churn risk at %s%%", keys[best], pct(bestRate, 1)))
	}
	return out
}

// Credit summarises exposure, expected loss and the riskiest grade. When a
// stress scenario was applied the change against the baseline is reported.
func Credit(entities []domain.ScoredEntity, a *domain.CreditAnalysis) []string {
	p := a.Portfolio

	var pdSum float64
	for _, e := range entities {
		pdSum += e.PrimaryScore
	}

	out := []string{
		fmt.Sprintf("Portfolio contains %s loans with total exposure of %s", count(p.Loans), millions(p.TotalExposure)),
		fmt.Sprintf("Expected loss is %s (%s%% of exposure)", thousands(p.ExpectedLoss), pct(ratio(p.ExpectedLoss, p.TotalExposure), 2)),
		fmt.Sprintf("Average PD across portfolio is %s%%", pct(ratio(pdSum, float64(len(entities))), 2)),
		fmt.Sprintf("%s loans (%s%%) have PD > 10%%", count(a.HighPD), share(a.HighPD, p.Loans)),
	}

	var riskiest *domain.HeatmapRow
	for i := range a.Grades {
		if riskiest == nil || a.Grades[i].AvgScore > riskiest.AvgScore {
			riskiest = &a.Grades[i]
		}
	}
	if riskiest != nil {
		out = append(out, fmt.Sprintf("Grade %s loans have highest average PD at %s%%", riskiest.Key, pct(riskiest.AvgScore, 2)))
	}

	if a.Baseline != nil && a.Scenario != nil {
		change := ratio(p.ExpectedLoss-a.Baseline.ExpectedLoss, a.Baseline.ExpectedLoss)
		sign := ""
		if change >= 0 {
			sign = "+"
		}
		out = append(out, fmt.Sprintf("Under the %s scenario expected loss moves from %s to %s (%s%s%%)",
			scenarioName(a.Scenario), thousands(a.Baseline.ExpectedLoss), thousands(p.ExpectedLoss), sign, pct(change, 1)))
	}
	return out
}

func scenarioName(s *domain.Scenario) string {
	if s.Name == "" {
		return "custom"
	}
	return s.Name
}

// Fraud summarises volumes, the transaction network and high-risk patterns.
func Fraud(entities []domain.ScoredEntity, a *domain.FraudAnalysis) []string {
	total := len(entities)
	out := []string{
		fmt.Sprintf("Analyzed %s transactions totaling %s", count(total), millions(a.TotalVolume)),
		fmt.Sprintf("%s transactions (%s%%) flagged as suspicious", count(a.Suspicious), share(a.Suspicious, total)),
		fmt.Sprintf("Suspicious transactions represent %s (%s%% of total volume)",
			thousands(a.SuspiciousVolume), pct(ratio(a.SuspiciousVolume, a.TotalVolume), 1)),
		fmt.Sprintf("Network includes %s accounts, %s devices, and %s IP addresses",
			count(aggregate.Distinct(entities, domain.ColAccountID)),
			count(aggregate.Distinct(entities, domain.ColDeviceID)),
			count(aggregate.Distinct(entities, domain.ColIPAddress))),
	}

	if a.CrossBorder > 0 {
		out = append(out, fmt.Sprintf("%s cross-border transactions detected (%s%% of total)", count(a.CrossBorder), share(a.CrossBorder, total)))
	}
	if float64(a.Night) > float64(total)*0.3 {
		out = append(out, fmt.Sprintf("Unusually high night-time activity: %s%% of transactions", share(a.Night, total)))
	}
	return out
}

// Cyber summarises threats, indicators and unusual activity patterns.
func Cyber(entities []domain.ScoredEntity, a *domain.CyberAnalysis) []string {
	total := len(entities)
	out := []string{
		fmt.Sprintf("Analyzed %s security events from %s users and %s IP addresses", count(total), count(a.Users), count(a.IPs)),
		fmt.Sprintf("%s events (%s%%) flagged as potential threats", count(a.Threats), share(a.Threats, total)),
		fmt.Sprintf("%s critical security incidents requiring immediate attention", count(a.Critical)),
	}

	if len(a.ThreatTypes) > 0 {
		top := a.ThreatTypes[0]
		out = append(out, fmt.Sprintf("Most common threat type: %s (%s incidents)", top.Label, count(top.Count)))
	}
	if float64(a.OffHours) > float64(total)*0.3 {
		out = append(out, fmt.Sprintf("Unusual activity pattern: %s%% of events occurred during off-hours", share(a.OffHours, total)))
	}
	if a.SuspiciousGeo > 0 {
		out = append(out, fmt.Sprintf("%s events from suspicious geographic locations (TOR/VPN/Unknown)", count(a.SuspiciousGeo)))
	}
	return out
}

// ESG summarises the portfolio ESG score and governance concerns.
func ESG(a *domain.ESGAnalysis) []string {
	s := a.Summary
	out := []string{
		fmt.Sprintf("ESG portfolio analysis reveals %s average ESG score with %s companies flagged as high-risk requiring immediate attention",
			fixed(s.AvgComposite, 0), count(s.HighRisk)),
	}
	if s.TopPerformer != "" {
		out = append(out, fmt.Sprintf("%s leads portfolio performance with %s ESG score", s.TopPerformer, fixed(s.TopScore, 1)))
	}
	if s.LowGovernance > 0 {
		out = append(out, fmt.Sprintf("%s companies have governance scores below 50, which correlates with increased regulatory scrutiny",
			count(s.LowGovernance)))
	}
	if s.HighRisk > 0 {
		out = append(out, "Recommend enhanced due diligence for high-risk entities and a quarterly ESG monitoring cadence")
	}
	return out
}

// Forecast summarises the projection, promo returns and volatile periods.
func Forecast(entities []domain.ScoredEntity, a *domain.ForecastAnalysis) []string {
	p := a.Params
	out := []string{
		fmt.Sprintf("Forecast projects %s average monthly revenue over %d periods with %s%% seasonal variance",
			thousands(a.AvgForecast), len(a.Projection), pct(p.SeasonalityStrength, 0)),
	}

	if len(a.Promos) > 0 {
		out = append(out, fmt.Sprintf("Promotional campaigns show %s%% average ROI with %q delivering peak performance at %s%% ROI",
			pct(a.AvgROI, 0), a.BestCampaign, pct(a.BestROI, 0)))
	}

	persistence := "moderate"
	if p.TrendDamping > 0.5 {
		persistence = "strong"
	}
	out = append(out, fmt.Sprintf("Trend decomposition indicates %s trend persistence with %s%% market saturation limiting incremental gains",
		persistence, pct(p.MarketSaturation, 0)))

	volatile := 0
	for _, e := range entities {
		for _, tag := range e.Tags {
			if strings.HasPrefix(tag, "Revenue ") {
				volatile++
				break
			}
		}
	}
	if volatile > 0 {
		out = append(out, fmt.Sprintf("%s periods deviate more than 25%% from their trailing mean", count(volatile)))
	}
	return out
}
