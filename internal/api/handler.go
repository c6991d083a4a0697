package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// DefaultMaxUploadMB bounds request bodies when no limit is configured.
const DefaultMaxUploadMB = 32

// Deps are the services the handlers call. Worker, Cache, Bus, Sink and
// Metrics are optional.
type Deps struct {
	Analysis    *analysis.Service
	Worker      *worker.Worker
	Cache       domain.Cache
	Bus         domain.EventBus
	Sink        *export.SQLSink
	Metrics     *metrics.Registry
	Version     string
	MaxUploadMB int
}

// Handler contains HTTP handlers for the API.
type Handler struct {
	analysis  *analysis.Service
	worker    *worker.Worker
	cache     domain.Cache
	bus       domain.EventBus
	sink      *export.SQLSink
	metrics   *metrics.Registry
	version   string
	maxUpload int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	mb := deps.MaxUploadMB
	if mb <= 0 {
		mb = DefaultMaxUploadMB
	}
	return &Handler{
		analysis:  deps.Analysis,
		worker:    deps.Worker,
		cache:     deps.Cache,
		bus:       deps.Bus,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		version:   deps.Version,
		maxUpload: int64(mb) << 20,
	}
}

// ModuleInfo describes one module and its rule sets.
type ModuleInfo struct {
	Name     domain.Module `json:"name"`
	Title    string        `json:"title"`
	RuleSets []string      `json:"ruleSets"`
}

// JobResponse is returned when a job is accepted.
type JobResponse struct {
	Job       domain.Job `json:"job"`
	StatusURL string     `json:"statusUrl"`
}

type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string)

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(r.Context()) })
	}
	if h.sink != nil {
		check("export", func() error { return h.sink.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.analysis == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// ListModules handles GET /v1/modules.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	set := h.analysis.Scorer().Rules()

	out := make([]ModuleInfo, 0, len(domain.Modules()))
	for _, m := range domain.Modules() {
		info := ModuleInfo{Name: m, Title: m.Title(), RuleSets: []string{}}
		sets, err := set.RuleSets(m)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, rs := range sets {
			info.RuleSets = append(info.RuleSets, rs.ID)
		}
		out = append(out, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"modules": out,
		"count":   len(out),
	})
}

// ListRules handles GET /v1/modules/{module}/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	m, err := domain.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sets, err := h.analysis.Scorer().Rules().RuleSets(m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"module":   m,
		"ruleSets": sets,
		"count":    len(sets),
	})
}

// Analyze handles POST /v1/modules/{module}/analyze. The body is the CSV
// dataset and the query string carries the module knobs.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	report, ok := h.runAnalysis(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Export handles POST /v1/modules/{module}/export. The scored table is
// streamed as CSV or JSON, or written to the SQL sink when ?table= is set.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	table := q.Get("table")
	if table != "" && h.sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "SQL export is not configured"})
		return
	}

	report, ok := h.runAnalysis(w, r)
	if !ok {
		return
	}
	t := export.FromReport(report)

	if table != "" {
		run, err := h.sink.Write(r.Context(), table, t)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.metrics.Export("sql")
		writeJSON(w, http.StatusCreated, run)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, t); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.Export(string(format))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(report.Module)+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ListExports handles GET /v1/exports.
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "SQL export is not configured"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: limit %q", domain.ErrInvalidInput, v))
			return
		}
		limit = n
	}

	runs, err := h.sink.Runs(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []export.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exports": runs,
		"count":   len(runs),
	})
}

// SubmitJob handles POST /v1/modules/{module}/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async jobs are disabled"})
		return
	}

	m, err := domain.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	params, err := ParseParams(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: empty request body", domain.ErrInvalidInput))
		return
	}

	job, err := h.worker.Submit(r.Context(), m, params, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, JobResponse{
		Job:       *job,
		StatusURL: "/v1/jobs/" + job.ID,
	})
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async jobs are disabled"})
		return
	}

	res, err := h.worker.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// runAnalysis parses the module, knobs and CSV body of r and runs the
// pipeline. It writes the error response itself and reports false on failure.
func (h *Handler) runAnalysis(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	m, err := domain.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	params, err := ParseParams(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}

	report, err := h.analysis.AnalyzeCSV(r.Context(), m, http.MaxBytesReader(w, r.Body, h.maxUpload), params)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return report, true
}

// ParseParams reads module knobs from query parameters. Missing knobs keep
// their defaults; setting any credit knob enables the stress scenario.
func ParseParams(q url.Values) (domain.Params, error) {
	p := domain.DefaultParams()
	p.Window = q.Get("window")

	var perr error
	num := func(name string, dst *float64) bool {
		v := q.Get(name)
		if v == "" || perr != nil {
			return false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || domain.Finite(f) != f {
			perr = fmt.Errorf("%w: %s=%q is not a number", domain.ErrInvalidInput, name, v)
			return false
		}
		*dst = f
		return true
	}
	integer := func(name string, dst *int) {
		v := q.Get(name)
		if v == "" || perr != nil {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			perr = fmt.Errorf("%w: %s=%q is not an integer", domain.ErrInvalidInput, name, v)
			return
		}
		*dst = n
	}

	base := domain.BaselineScenario()
	unemployment, _ := base.Value(domain.ShockUnemployment)
	interest, _ := base.Value(domain.ShockInterestRate)
	macro, _ := base.Value(domain.ShockMacro)
	stressed := num(domain.ShockUnemployment, &unemployment)
	stressed = num(domain.ShockInterestRate, &interest) || stressed
	stressed = num(domain.ShockMacro, &macro) || stressed
	if stressed {
		s := domain.CreditScenario(unemployment, interest, macro)
		p.Scenario = &s
	}

	num("environmental_weight", &p.ESG.EnvironmentalWeight)
	num("social_weight", &p.ESG.SocialWeight)
	num("governance_weight", &p.ESG.GovernanceWeight)
	num("risk_threshold", &p.ESG.RiskThreshold)

	integer("horizon", &p.Forecast.Horizon)
	num("seasonality_strength", &p.Forecast.SeasonalityStrength)
	num("trend_damping", &p.Forecast.TrendDamping)
	num("promo_lift", &p.Forecast.PromoLift)
	num("baseline_growth", &p.Forecast.BaselineGrowth)
	num("market_saturation", &p.Forecast.MarketSaturation)

	integer("max_nodes", &p.Graph.MaxNodes)
	integer("max_edges", &p.Graph.MaxEdges)
	if v := q.Get("rank"); v != "" && perr == nil {
		b, err := strconv.ParseBool(v)
		if err != nil {
			perr = fmt.Errorf("%w: rank=%q is not a boolean", domain.ErrInvalidInput, v)
		}
		p.Graph.RankByScore = b
	}

	if perr != nil {
		return domain.Params{}, perr
	}
	return p, nil
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnknownModule), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err, "request_id", GetRequestID(r.Context()))
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, TraceID: GetTraceID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
