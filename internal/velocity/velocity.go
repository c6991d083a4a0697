// Package velocity derives per-account transaction velocity from timestamps.
package velocity

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Default counting windows.
const (
	ShortWindow = time.Hour
	LongWindow  = 24 * time.Hour
)

// Service backfills velocity columns on fraud datasets that lack them.
type Service struct {
	short time.Duration
	long  time.Duration
}

// NewService creates a new velocity service with the default windows.
func NewService() *Service {
	return &Service{
		short: ShortWindow,
		long:  LongWindow,
	}
}

type event struct {
	idx int
	at  time.Time
}

// Backfill returns rows with velocity_1h, velocity_24h and
// days_since_last_transaction filled in from account_id and timestamp.
// Columns already present on a row are left as they are, and rows without
// an account or a parseable timestamp are returned unchanged. The input
// rows are never modified.
func (s *Service) Backfill(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, len(rows))
	copy(out, rows)

	if !needsBackfill(rows) {
		return out
	}

	byAccount := make(map[string][]event)
	for i, r := range rows {
		account := r.String(domain.ColAccountID)
		if account == "" {
			continue
		}
		at, ok := r.Time(domain.ColTimestamp)
		if !ok {
			continue
		}
		byAccount[account] = append(byAccount[account], event{idx: i, at: at})
	}

	for _, events := range byAccount {
		sort.SliceStable(events, func(a, b int) bool {
			return events[a].at.Before(events[b].at)
		})

		for pos, ev := range events {
			extra := make(map[string]any, 3)
			row := rows[ev.idx]

			if !row.Has(domain.ColVelocity1h) {
				extra[domain.ColVelocity1h] = float64(countWithin(events, pos, s.short))
			}
			if !row.Has(domain.ColVelocity24h) {
				extra[domain.ColVelocity24h] = float64(countWithin(events, pos, s.long))
			}
			if !row.Has(domain.ColDaysSinceLastTxn) && pos > 0 {
				gap := ev.at.Sub(events[pos-1].at)
				extra[domain.ColDaysSinceLastTxn] = math.Floor(gap.Hours() / 24)
			}

			if len(extra) > 0 {
				out[ev.idx] = row.With(extra)
			}
		}
	}

	return out
}

// countWithin counts the events in [at-window, at] up to and including pos,
// plus any later events sharing the same timestamp.
func countWithin(events []event, pos int, window time.Duration) int {
	at := events[pos].at
	from := at.Add(-window)

	n := 0
	for i := pos; i >= 0 && !events[i].at.Before(from); i-- {
		n++
	}
	for i := pos + 1; i < len(events) && events[i].at.Equal(at); i++ {
		n++
	}
	return n
}

func needsBackfill(rows []domain.Row) bool {
	for _, r := range rows {
		if !r.Has(domain.ColVelocity1h) || !r.Has(domain.ColVelocity24h) || !r.Has(domain.ColDaysSinceLastTxn) {
			return true
		}
	}
	return false
}
