// Package aggregate groups and reduces scored entities into module views.
// Every function is pure and returns empty or zeroed results on empty input.
package aggregate

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// KeyFunc extracts a grouping key from an entity.
type KeyFunc func(domain.ScoredEntity) string

// WeightFunc extracts an exposure weight from an entity.
type WeightFunc func(domain.ScoredEntity) float64

// LevelFunc assigns a heatmap tier to an entity.
type LevelFunc func(domain.ScoredEntity) domain.RiskLevel

// ByGroup keys entities by their Group.
func ByGroup(e domain.ScoredEntity) string { return e.Group }

// ByFeature keys entities by a feature column, or "Unknown" when empty.
func ByFeature(col string) KeyFunc {
	return func(e domain.ScoredEntity) string {
		if v := e.Features.String(col); v != "" {
			return v
		}
		return "Unknown"
	}
}

// ByMetric weights entities by a derived metric.
func ByMetric(name string) WeightFunc {
	return func(e domain.ScoredEntity) float64 { return e.Metric(name) }
}

// ByAmount weights entities by a numeric feature column.
func ByAmount(col string) WeightFunc {
	return func(e domain.ScoredEntity) float64 { return e.Features.Float(col) }
}

// ByRiskLevel uses the entity's own risk level.
func ByRiskLevel(e domain.ScoredEntity) domain.RiskLevel { return e.RiskLevel }

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func percent(n, total int) float64 {
	return ratio(float64(n), float64(total)) * 100
}

// LevelDistribution counts entities per risk level, in severity order.
func LevelDistribution(entities []domain.ScoredEntity) []domain.LevelShare {
	counts := make(map[domain.RiskLevel]int, 4)
	for _, e := range entities {
		counts[e.RiskLevel]++
	}

	out := make([]domain.LevelShare, 0, 4)
	for _, l := range domain.RiskLevels() {
		out = append(out, domain.LevelShare{
			Level:      l,
			Count:      counts[l],
			Percentage: percent(counts[l], len(entities)),
		})
	}
	return out
}

// Heatmap groups entities by key in first-seen order and counts members per
// tier. WeightedScore is Σ(score×w)/Σw, or 0 when Σw is 0. A nil weight
// function weights every entity by 1.
func Heatmap(entities []domain.ScoredEntity, key KeyFunc, tier LevelFunc, weight WeightFunc) []domain.HeatmapRow {
	if tier == nil {
		tier = ByRiskLevel
	}

	index := make(map[string]int)
	rows := make([]domain.HeatmapRow, 0)
	sums := make([]float64, 0)
	weighted := make([]float64, 0)

	for _, e := range entities {
		k := key(e)
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			counts := make(map[domain.RiskLevel]int, 4)
			for _, l := range domain.RiskLevels() {
				counts[l] = 0
			}
			rows = append(rows, domain.HeatmapRow{Key: k, Counts: counts})
			sums = append(sums, 0)
			weighted = append(weighted, 0)
		}

		w := 1.0
		if weight != nil {
			w = weight(e)
		}

		rows[i].Total++
		rows[i].Counts[tier(e)]++
		rows[i].Exposure += w
		sums[i] += e.PrimaryScore
		weighted[i] += e.PrimaryScore * w
	}

	for i := range rows {
		rows[i].AvgScore = ratio(sums[i], float64(rows[i].Total))
		rows[i].WeightedScore = ratio(weighted[i], rows[i].Exposure)
	}
	return rows
}

// LabelCounts counts indicator tags, most frequent first. Ties keep first-seen
// order. A limit of 0 keeps every label.
func LabelCounts(entities []domain.ScoredEntity, limit int) []domain.LabelCount {
	index := make(map[string]int)
	out := make([]domain.LabelCount, 0)
	for _, e := range entities {
		for _, tag := range e.Tags {
			i, ok := index[tag]
			if !ok {
				i = len(out)
				index[tag] = i
				out = append(out, domain.LabelCount{Label: tag})
			}
			out[i].Count++
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CountAbove counts entities whose primary score exceeds threshold.
func CountAbove(entities []domain.ScoredEntity, threshold float64) int {
	n := 0
	for _, e := range entities {
		if e.PrimaryScore > threshold {
			n++
		}
	}
	return n
}

// CountLevel counts entities at exactly the given level.
func CountLevel(entities []domain.ScoredEntity, level domain.RiskLevel) int {
	n := 0
	for _, e := range entities {
		if e.RiskLevel == level {
			n++
		}
	}
	return n
}

// Distinct counts the distinct non-empty values of a feature column.
func Distinct(entities []domain.ScoredEntity, col string) int {
	seen := make(map[string]struct{})
	for _, e := range entities {
		if v := e.Features.String(col); v != "" {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}
