package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Security aggregation limits.
const (
	SessionThreshold  = 0.4
	MaxSessions       = 20
	MaxAlerts         = 10
	MaxSpikes         = 24
	MaxThreatTypes    = 8
	FlagThreshold     = 0.6
	AnomalyThreshold  = 0.5
	SpikeAnomalies    = 5
	SpikeAvgThreat    = 0.6
	ClusterThreshold  = 0.8
	HighValueAmount   = 10000
	HighVelocityCount = 5
)

var suspiciousGeo = []string{"Unknown", "TOR", "VPN"}

// BySession keys fraud entities by session_id, falling back to account_id.
func BySession(e domain.ScoredEntity) string {
	if v := e.Features.String(domain.ColSessionID); v != "" {
		return v
	}
	return e.Features.String(domain.ColAccountID)
}

// Sessions groups entities by key. A session's score is the max over its
// events; only sessions scoring above threshold are kept, riskiest first,
// capped at limit. Anomalies count events whose secondary score exceeds 0.5.
func Sessions(entities []domain.ScoredEntity, key KeyFunc, threshold float64, limit int) []domain.Session {
	type acc struct {
		session domain.Session
		seen    map[string]struct{}
	}

	index := make(map[string]int)
	groups := make([]*acc, 0)

	for _, e := range entities {
		k := key(e)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			subject := e.Features.String(domain.ColUserID)
			if subject == "" {
				subject = e.Features.String(domain.ColAccountID)
			}
			groups = append(groups, &acc{
				session: domain.Session{
					ID:        k,
					Subject:   subject,
					IPAddress: e.Features.String(domain.ColIPAddress),
				},
				seen: make(map[string]struct{}),
			})
		}

		g := groups[i]
		s := &g.session
		s.Events++
		if e.PrimaryScore > s.Score {
			s.Score = e.PrimaryScore
		}
		if e.Secondary() > AnomalyThreshold {
			s.AnomalyCount++
		}
		for _, tag := range e.Tags {
			if _, dup := g.seen[tag]; !dup {
				g.seen[tag] = struct{}{}
				s.ThreatTypes = append(s.ThreatTypes, tag)
			}
		}
		if at, ok := e.Features.Time(domain.ColTimestamp); ok {
			if s.FirstSeen == nil || at.Before(*s.FirstSeen) {
				first := at
				s.FirstSeen = &first
			}
			if s.LastSeen == nil || at.After(*s.LastSeen) {
				last := at
				s.LastSeen = &last
			}
		}
	}

	out := make([]domain.Session, 0)
	for _, g := range groups {
		s := g.session
		if s.Score <= threshold {
			continue
		}
		if s.FirstSeen != nil {
			s.DurationMinutes = s.LastSeen.Sub(*s.FirstSeen).Minutes()
		}
		s.RiskLevel = scoring.SharedLevel(s.Score)
		out = append(out, s)
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FraudAlerts raises one alert per triggered pattern, highest score first.
func FraudAlerts(entities []domain.ScoredEntity) []domain.Alert {
	patterns := []struct {
		kind     string
		severity domain.RiskLevel
		match    func(domain.ScoredEntity) bool
		describe func(matched []domain.ScoredEntity) string
	}{
		{
			kind:     "High Value Transaction",
			severity: domain.RiskHigh,
			match:    func(e domain.ScoredEntity) bool { return e.Features.Float(domain.ColAmount) > HighValueAmount },
			describe: func(m []domain.ScoredEntity) string {
				return fmt.Sprintf("%d transactions over $10,000 detected", len(m))
			},
		},
		{
			kind:     "High Transaction Velocity",
			severity: domain.RiskCritical,
			match:    func(e domain.ScoredEntity) bool { return e.Features.Float(domain.ColVelocity1h) > HighVelocityCount },
			describe: func(m []domain.ScoredEntity) string {
				return fmt.Sprintf("%d accounts with >5 transactions per hour", len(accounts(m)))
			},
		},
		{
			kind:     "Cross-Border Activity",
			severity: domain.RiskMedium,
			match:    func(e domain.ScoredEntity) bool { return e.Features.Bool(domain.ColCrossBorder) },
			describe: func(m []domain.ScoredEntity) string {
				return fmt.Sprintf("%d cross-border transactions detected", len(m))
			},
		},
		{
			kind:     "Suspicious Transaction Cluster",
			severity: domain.RiskCritical,
			match:    func(e domain.ScoredEntity) bool { return e.PrimaryScore > ClusterThreshold },
			describe: func(m []domain.ScoredEntity) string {
				return fmt.Sprintf("%d transactions with fraud score >80%%", len(m))
			},
		},
	}

	alerts := make([]domain.Alert, 0, len(patterns))
	for _, p := range patterns {
		var matched []domain.ScoredEntity
		for _, e := range entities {
			if p.match(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}

		a := domain.Alert{
			ID:          "alert_" + strconv.Itoa(len(alerts)+1),
			Type:        p.kind,
			Severity:    p.severity,
			Description: p.describe(matched),
			Count:       len(matched),
			EntityIDs:   accounts(matched),
		}
		for _, e := range matched {
			if e.PrimaryScore > a.Score {
				a.Score = e.PrimaryScore
			}
			if at, ok := e.Features.Time(domain.ColTimestamp); ok {
				if a.ObservedAt == nil || at.After(*a.ObservedAt) {
					latest := at
					a.ObservedAt = &latest
				}
			}
		}
		alerts = append(alerts, a)
	}

	sort.SliceStable(alerts, func(a, b int) bool { return alerts[a].Score > alerts[b].Score })
	if len(alerts) > MaxAlerts {
		alerts = alerts[:MaxAlerts]
	}
	return alerts
}

// accounts returns the distinct account IDs in first-seen order.
func accounts(entities []domain.ScoredEntity) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, e := range entities {
		id := e.Features.String(domain.ColAccountID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Spikes buckets events by UTC hour and reports hours with more than five
// anomalies or a mean threat above 0.6, oldest first, capped at 24.
// Events without a parseable timestamp are skipped.
func Spikes(entities []domain.ScoredEntity) []domain.AnomalySpike {
	type bucket struct {
		spike    domain.AnomalySpike
		sum      float64
		types    map[string]struct{}
		sessions map[string]struct{}
	}

	index := make(map[time.Time]*bucket)
	order := make([]*bucket, 0)

	for _, e := range entities {
		at, ok := e.Features.Time(domain.ColTimestamp)
		if !ok {
			continue
		}
		hour := at.Truncate(time.Hour)
		b, ok := index[hour]
		if !ok {
			b = &bucket{
				spike:    domain.AnomalySpike{Hour: hour},
				types:    make(map[string]struct{}),
				sessions: make(map[string]struct{}),
			}
			index[hour] = b
			order = append(order, b)
		}

		b.spike.Events++
		b.sum += e.PrimaryScore
		if e.Secondary() > AnomalyThreshold {
			b.spike.Anomalies++
		}
		if t := e.Features.String(domain.ColEventType); t != "" {
			if _, dup := b.types[t]; !dup {
				b.types[t] = struct{}{}
				b.spike.EventTypes = append(b.spike.EventTypes, t)
			}
		}
		b.sessions[e.Features.String(domain.ColSessionID)] = struct{}{}
	}

	out := make([]domain.AnomalySpike, 0)
	for _, b := range order {
		b.spike.AvgThreat = ratio(b.sum, float64(b.spike.Events))
		b.spike.Sessions = len(b.sessions)
		if b.spike.Anomalies > SpikeAnomalies || b.spike.AvgThreat > SpikeAvgThreat {
			out = append(out, b.spike)
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Hour.Before(out[b].Hour) })
	if len(out) > MaxSpikes {
		out = out[:MaxSpikes]
	}
	return out
}

const maxWindowDays = math.MaxInt64 / int64(24*time.Hour)

// ParseWindow parses a timeline window such as "1h", "24h" or "7d".
// The empty string means no window.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 || int64(n) > maxWindowDays {
			return 0, fmt.Errorf("%w: window %q", domain.ErrInvalidInput, s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: window %q", domain.ErrInvalidInput, s)
	}
	return d, nil
}

// Window keeps the entities whose timestamp lies within d of the latest
// timestamp in the set. A zero window keeps everything; with a window set,
// entities without a parseable timestamp are dropped.
func Window(entities []domain.ScoredEntity, d time.Duration) []domain.ScoredEntity {
	if d <= 0 {
		return entities
	}

	var latest time.Time
	for _, e := range entities {
		if at, ok := e.Features.Time(domain.ColTimestamp); ok && at.After(latest) {
			latest = at
		}
	}
	from := latest.Add(-d)

	out := make([]domain.ScoredEntity, 0, len(entities))
	for _, e := range entities {
		if at, ok := e.Features.Time(domain.ColTimestamp); ok && !at.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// Timeline buckets entities into the 24 hours of the day by their timestamp.
// Flagged counts scores above threshold.
func Timeline(entities []domain.ScoredEntity, threshold float64) []domain.TimeBucket {
	out := make([]domain.TimeBucket, 24)
	sums := make([]float64, 24)
	for h := range out {
		out[h].Hour = h
	}

	for _, e := range entities {
		at, ok := e.Features.Time(domain.ColTimestamp)
		if !ok {
			continue
		}
		h := at.Hour()
		out[h].Count++
		sums[h] += e.PrimaryScore
		if e.PrimaryScore > threshold {
			out[h].Flagged++
		}
	}

	for h := range out {
		out[h].AvgScore = ratio(sums[h], float64(out[h].Count))
	}
	return out
}

// Fraud builds the fraud module view.
func Fraud(entities []domain.ScoredEntity, params domain.Params) (*domain.FraudAnalysis, error) {
	window, err := ParseWindow(params.Window)
	if err != nil {
		return nil, err
	}

	a := &domain.FraudAnalysis{
		Distribution: LevelDistribution(entities),
		Network:      Network(entities, params.Graph),
		Alerts:       FraudAlerts(entities),
		Sessions:     Sessions(entities, BySession, SessionThreshold, MaxSessions),
		Timeline:     Timeline(Window(entities, window), FlagThreshold),
		Anomalies:    LabelCounts(entities, 0),
	}

	for _, e := range entities {
		amount := e.Features.Float(domain.ColAmount)
		a.TotalVolume += amount
		if e.PrimaryScore > FlagThreshold {
			a.Suspicious++
			a.SuspiciousVolume += amount
		}
		if e.Features.Bool(domain.ColCrossBorder) {
			a.CrossBorder++
		}
		if e.Features.Bool(domain.ColIsNightTime) {
			a.Night++
		}
	}
	return a, nil
}

// Cyber builds the security log module view.
func Cyber(entities []domain.ScoredEntity, params domain.Params) (*domain.CyberAnalysis, error) {
	window, err := ParseWindow(params.Window)
	if err != nil {
		return nil, err
	}

	a := &domain.CyberAnalysis{
		Distribution: LevelDistribution(entities),
		Sessions:     Sessions(entities, ByGroup, SessionThreshold, MaxSessions),
		Spikes:       Spikes(entities),
		Timeline:     Timeline(Window(entities, window), FlagThreshold),
		ThreatTypes:  LabelCounts(entities, MaxThreatTypes),
		Users:        Distinct(entities, domain.ColUserID),
		IPs:          Distinct(entities, domain.ColIPAddress),
		Threats:      CountAbove(entities, FlagThreshold),
		Critical:     CountLevel(entities, domain.RiskCritical),
	}

	for _, e := range entities {
		if at, ok := e.Features.Time(domain.ColTimestamp); ok && scoring.OffHours(at.Hour()) {
			a.OffHours++
		}
		geo := e.Features.String(domain.ColGeolocation)
		for _, s := range suspiciousGeo {
			if strings.Contains(geo, s) {
				a.SuspiciousGeo++
				break
			}
		}
	}
	return a, nil
}
