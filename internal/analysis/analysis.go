// Package analysis runs one dataset through the scoring pipeline: ingest,
// score, stress, aggregate and summarize. Reports are cached by content
// hash so a repeated upload with the same knobs is served from cache.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/insight"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/stress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-analysis")

// DefaultResultTTL is used when Options.ResultTTL is zero.
const DefaultResultTTL = time.Hour

// Options configures a Service.
type Options struct {
	// MaxRows caps uploaded datasets; zero means no limit.
	MaxRows int
	// ResultTTL is how long reports stay cached.
	ResultTTL time.Duration
	Metrics   *metrics.Registry
}

// Service runs analyses. It is safe for concurrent use; runs share nothing
// but the report cache.
type Service struct {
	scorer  *scoring.Scorer
	cache   domain.Cache
	metrics *metrics.Registry
	opts    Options
}

// New creates a service. A nil cache disables report caching.
func New(scorer *scoring.Scorer, c domain.Cache, opts Options) *Service {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	return &Service{
		scorer:  scorer,
		cache:   c,
		metrics: opts.Metrics,
		opts:    opts,
	}
}

// Scorer returns the underlying scorer.
func (s *Service) Scorer() *scoring.Scorer {
	return s.scorer
}

// Ingest parses a delimited upload into typed rows.
func (s *Service) Ingest(ctx context.Context, m domain.Module, r io.Reader) (*ingest.Dataset, error) {
	var ds *ingest.Dataset
	err := s.stage(ctx, m, metrics.StageIngest, func(ctx context.Context) error {
		var err error
		ds, err = ingest.Parse(r, m, ingest.Options{MaxRows: s.opts.MaxRows})
		return err
	})
	if err != nil {
		s.metrics.Analysis(string(m), "error")
		return nil, err
	}
	return ds, nil
}

// AnalyzeCSV ingests an upload and analyzes it.
func (s *Service) AnalyzeCSV(ctx context.Context, m domain.Module, r io.Reader, params domain.Params) (*domain.Report, error) {
	ds, err := s.Ingest(ctx, m, r)
	if err != nil {
		return nil, err
	}
	return s.Analyze(ctx, ds, params)
}

// Analyze returns the report for a dataset, from cache when an identical
// dataset was analyzed with the same parameters. Datasets without a digest
// bypass the cache.
func (s *Service) Analyze(ctx context.Context, ds *ingest.Dataset, params domain.Params) (*domain.Report, error) {
	params = params.Normalize()

	key := ""
	if s.cache != nil && ds.Digest != "" {
		var err error
		key, err = CacheKey(ds.Module, params, ds.Digest)
		if err != nil {
			return nil, err
		}
		if r, ok := s.cached(ctx, key); ok {
			return r, nil
		}
	}

	report, err := s.Run(ctx, ds.Module, ds.Columns, ds.Rows, params)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := cache.SetJSON(ctx, s.cache, domain.CacheReports, key, report, s.opts.ResultTTL); err != nil {
			slog.Warn("failed to cache report", "report_id", report.ID, "error", err)
		}
	}
	return report, nil
}

func (s *Service) cached(ctx context.Context, key string) (*domain.Report, bool) {
	var r domain.Report
	ok, err := cache.GetJSON(ctx, s.cache, domain.CacheReports, key, &r)
	if err != nil {
		slog.Warn("report cache read failed", "error", err)
	}
	s.metrics.Cache(ok)
	if !ok {
		return nil, false
	}
	r.Cached = true
	slog.Debug("report served from cache", "report_id", r.ID, "module", r.Module)
	return &r, true
}

// Run scores rows and builds the report without consulting the cache.
func (s *Service) Run(ctx context.Context, m domain.Module, columns []string, rows []domain.Row, params domain.Params) (*domain.Report, error) {
	start := time.Now()
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModule, m)
	}
	params = params.Normalize()

	ctx, span := tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(
			attribute.String("module", string(m)),
			attribute.Int("rows", len(rows)),
		),
	)
	defer span.End()

	if columns == nil {
		columns = []string{}
	}
	r := &domain.Report{
		ID:          uuid.New().String(),
		Module:      m,
		GeneratedAt: start.UTC(),
		Rows:        len(rows),
		Columns:     columns,
		Params:      params,
	}

	err := s.stage(ctx, m, metrics.StageScore, func(ctx context.Context) error {
		entities, err := s.scorer.Score(ctx, m, rows, params)
		if err != nil {
			return fmt.Errorf("failed to score %s rows: %w", m, err)
		}
		r.Entities = entities
		return nil
	})
	if err != nil {
		return nil, s.fail(span, m, err)
	}
	if r.Entities == nil {
		r.Entities = []domain.ScoredEntity{}
	}

	var baseline *domain.PortfolioMetrics
	if m == domain.ModuleCredit && params.Scenario != nil && !params.Scenario.IsBaseline() {
		_ = s.stage(ctx, m, metrics.StageStress, func(ctx context.Context) error {
			p := aggregate.Portfolio(r.Entities)
			baseline = &p
			r.Entities = stress.Apply(r.Entities, *params.Scenario, s.creditBounds())
			return nil
		})
	}

	err = s.stage(ctx, m, metrics.StageAggregate, func(ctx context.Context) error {
		return aggregateInto(r, params, baseline)
	})
	if err != nil {
		return nil, s.fail(span, m, err)
	}

	_ = s.stage(ctx, m, metrics.StageInsight, func(ctx context.Context) error {
		r.Insights = insight.Summarize(r)
		return nil
	})

	r.DurationMs = time.Since(start).Milliseconds()
	s.metrics.Analysis(string(m), "ok")
	s.metrics.Scored(string(m), levelCounts(r.Entities))

	slog.Info("analysis completed",
		"report_id", r.ID,
		"module", m,
		"rows", r.Rows,
		"critical", aggregate.CountLevel(r.Entities, domain.RiskCritical),
		"duration_ms", r.DurationMs,
	)
	return r, nil
}

func aggregateInto(r *domain.Report, params domain.Params, baseline *domain.PortfolioMetrics) error {
	var err error
	switch r.Module {
	case domain.ModuleChurn:
		r.Churn = aggregate.Churn(r.Entities)
	case domain.ModuleCredit:
		r.Credit = aggregate.Credit(r.Entities)
		if baseline != nil {
			r.Credit.Baseline = baseline
			r.Credit.Scenario = params.Scenario
		}
	case domain.ModuleFraud:
		r.Fraud, err = aggregate.Fraud(r.Entities, params)
	case domain.ModuleCyber:
		r.Cyber, err = aggregate.Cyber(r.Entities, params)
	case domain.ModuleESG:
		r.ESG = aggregate.ESG(r.Entities, params.ESG)
	case domain.ModuleForecast:
		r.Forecast = aggregate.Forecast(r.Entities, params.Forecast)
	}
	return err
}

// creditBounds reads the PD clamp limits from the loaded credit rule set so
// stressed scores respect rule file overrides.
func (s *Service) creditBounds() stress.Bounds {
	engine, err := s.scorer.Rules().Engine(domain.ModuleCredit)
	if err != nil {
		return stress.CreditBounds
	}
	rs, ok := engine.RuleSet(rules.RuleSetCreditPD)
	if !ok {
		return stress.CreditBounds
	}
	return stress.BoundsOf(rs)
}

// stage runs fn inside a child span and records its duration.
func (s *Service) stage(ctx context.Context, m domain.Module, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "analysis."+name)
	defer span.End()

	err := fn(ctx)
	s.metrics.ObserveStage(string(m), name, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) fail(span trace.Span, m domain.Module, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.Analysis(string(m), "error")
	return err
}

func levelCounts(entities []domain.ScoredEntity) map[string]int {
	counts := make(map[string]int)
	for _, e := range entities {
		counts[string(e.RiskLevel)]++
	}
	return counts
}

// CacheKey is the content hash of a module, its normalized parameters and
// a dataset digest.
func CacheKey(m domain.Module, params domain.Params, digest string) (string, error) {
	p, err := json.Marshal(params.Normalize())
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(m))
	h.Write([]byte{0})
	h.Write(p)
	h.Write([]byte{0})
	h.Write([]byte(digest))
	return hex.EncodeToString(h.Sum(nil)), nil
}
