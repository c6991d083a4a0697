package scoring

import (
	"context"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// OffHours reports whether an hour of day falls outside 06:00-22:59.
func OffHours(hour int) bool {
	return hour < 6 || hour > 22
}

func (s *Scorer) scoreFraud(ctx context.Context, rows []domain.Row) ([]domain.ScoredEntity, error) {
	rows = s.velocity.Backfill(rows)

	results, err := s.evaluate(ctx, domain.ModuleFraud, rules.RuleSetFraud, rows)
	if err != nil {
		return nil, err
	}

	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		res := results[i]
		out[i] = domain.ScoredEntity{
			ID:            ids.next(row, domain.ColTransactionID, i),
			Module:        domain.ModuleFraud,
			Features:      row,
			PrimaryScore:  res.Score,
			RiskLevel:     SharedLevel(res.Score),
			Tags:          res.Tags,
			Group:         groupKey(row, domain.ColAccountID),
			Labels:        hourLabel(row),
			Contributions: res.Contributions,
		}
	}
	return out, nil
}

func (s *Scorer) scoreCyber(ctx context.Context, rows []domain.Row) ([]domain.ScoredEntity, error) {
	inputs := make([]domain.Row, len(rows))
	for i, row := range rows {
		off := false
		if at, ok := row.Time(domain.ColTimestamp); ok {
			off = OffHours(at.Hour())
		}
		inputs[i] = row.With(map[string]any{domain.ColOffHours: off})
	}

	threats, err := s.evaluate(ctx, domain.ModuleCyber, rules.RuleSetThreat, inputs)
	if err != nil {
		return nil, err
	}
	anomalies, err := s.evaluate(ctx, domain.ModuleCyber, rules.RuleSetAnomaly, inputs)
	if err != nil {
		return nil, err
	}

	ids := newIDAllocator(len(rows))
	out := make([]domain.ScoredEntity, len(rows))
	for i, row := range rows {
		threat := threats[i]
		out[i] = domain.ScoredEntity{
			ID:             ids.next(row, domain.ColEventID, i),
			Module:         domain.ModuleCyber,
			Features:       row,
			PrimaryScore:   threat.Score,
			SecondaryScore: domain.Float64(anomalies[i].Score),
			RiskLevel:      SharedLevel(threat.Score),
			Tags:           threat.Tags,
			Group:          groupKey(row, domain.ColSessionID, domain.ColUserID, domain.ColIPAddress),
			Labels:         hourLabel(row),
			Contributions:  append(threat.Contributions, anomalies[i].Contributions...),
		}
	}
	return out, nil
}

func hourLabel(row domain.Row) map[string]string {
	at, ok := row.Time(domain.ColTimestamp)
	if !ok {
		return nil
	}
	return map[string]string{domain.LabelHour: strconv.Itoa(at.Hour())}
}
