// Package worker runs analyses asynchronously from the event bus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// MaxAlertEntities caps the entity IDs carried by one alert.
const MaxAlertEntities = 20

// Worker consumes submitted datasets, runs the analysis and stores the
// outcome under the job ID.
type Worker struct {
	bus       domain.EventBus
	analysis  *analysis.Service
	cache     domain.Cache
	metrics   *metrics.Registry
	resultTTL time.Duration
	sem       chan struct{}

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many datasets are analyzed at once.
	Concurrency int

	// ResultTTL is how long job records stay readable.
	ResultTTL time.Duration

	Metrics *metrics.Registry
}

// Result is the stored state of a job.
type Result struct {
	Job    domain.Job     `json:"job"`
	Report *domain.Report `json:"report,omitempty"`
}

// NewWorker creates a new async worker. Job records live in c.
func NewWorker(b domain.EventBus, svc *analysis.Service, c domain.Cache, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		analysis:  svc,
		cache:     c,
		metrics:   cfg.Metrics,
		resultTTL: cfg.ResultTTL,
		sem:       make(chan struct{}, cfg.Concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to dataset submissions.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicDatasetSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicDatasetSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicDatasetSubmitted,
		"concurrency", cap(w.sem),
	)
	return nil
}

// Submit records a pending job and publishes the dataset for analysis.
func (w *Worker) Submit(ctx context.Context, m domain.Module, params domain.Params, csv []byte) (*domain.Job, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownModule, m)
	}

	job := domain.Job{
		ID:        uuid.New().String(),
		Module:    m,
		Status:    domain.JobPending,
		Submitted: time.Now().UnixMilli(),
	}
	if err := w.save(ctx, Result{Job: job}); err != nil {
		return nil, err
	}

	msg := domain.DatasetMessage{JobID: job.ID, Module: m, Params: params, CSV: csv}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicDatasetSubmitted, msg); err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	slog.Debug("job submitted", "job_id", job.ID, "module", m, "bytes", len(csv))
	return &job, nil
}

// Result returns the stored state of a job.
func (w *Worker) Result(ctx context.Context, id string) (*Result, error) {
	var res Result
	ok, err := cache.GetJSON(ctx, w.cache, domain.CacheJobs, id, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return &res, nil
}

// handleMessage hands a submission to a bounded goroutine so a slow
// analysis does not hold up the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var dm domain.DatasetMessage
	if err := json.Unmarshal(msg.Payload, &dm); err != nil {
		slog.Error("failed to parse dataset message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case w.sem <- struct{}{}:
		case <-w.ctx.Done():
			return
		}
		defer func() { <-w.sem }()
		w.process(w.ctx, dm)
	}()
	return nil
}

// analyze runs the pipeline, turning a panic into a failed job so one
// dataset cannot take the process down.
func (w *Worker) analyze(ctx context.Context, dm domain.DatasetMessage) (report *domain.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			report = nil
			err = fmt.Errorf("analysis panicked: %v", p)
		}
	}()
	return w.analysis.AnalyzeCSV(ctx, dm.Module, bytes.NewReader(dm.CSV), dm.Params)
}

// process analyzes one dataset and publishes the outcome.
func (w *Worker) process(ctx context.Context, dm domain.DatasetMessage) {
	start := time.Now()

	res := Result{Job: domain.Job{ID: dm.JobID, Module: dm.Module}}
	if prev, err := w.Result(ctx, dm.JobID); err == nil {
		res.Job = prev.Job
	}

	report, err := w.analyze(ctx, dm)
	res.Job.Finished = time.Now().UnixMilli()

	completion := domain.CompletionMessage{JobID: dm.JobID, Module: dm.Module}
	if err != nil {
		res.Job.Status = domain.JobFailed
		res.Job.Error = err.Error()
		completion.Status = domain.JobFailed
		completion.Error = err.Error()
		slog.Error("job failed",
			"job_id", dm.JobID,
			"module", dm.Module,
			"error", err,
		)
	} else {
		res.Job.Status = domain.JobCompleted
		res.Job.ReportID = report.ID
		res.Report = report
		completion.Status = domain.JobCompleted
		completion.ReportID = report.ID
		completion.Rows = report.Rows
		completion.Critical = countCritical(report.Entities)
	}

	if err := w.save(ctx, res); err != nil {
		slog.Error("failed to store job result", "job_id", dm.JobID, "error", err)
	}
	w.metrics.Job(string(res.Job.Status))

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicAnalysisCompleted, completion); err != nil {
		slog.Error("failed to publish completion",
			"job_id", dm.JobID,
			"error", err,
		)
	}

	if completion.Critical > 0 {
		alert := domain.AlertMessage{
			JobID:     dm.JobID,
			ReportID:  report.ID,
			Module:    dm.Module,
			Critical:  completion.Critical,
			EntityIDs: criticalIDs(report.Entities, MaxAlertEntities),
		}
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"job_id", dm.JobID,
				"error", err,
			)
		}
	}

	slog.Info("job processed",
		"job_id", dm.JobID,
		"module", dm.Module,
		"status", res.Job.Status,
		"critical", completion.Critical,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) save(ctx context.Context, res Result) error {
	if err := cache.SetJSON(ctx, w.cache, domain.CacheJobs, res.Job.ID, res, w.resultTTL); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func countCritical(entities []domain.ScoredEntity) int {
	n := 0
	for _, e := range entities {
		if e.RiskLevel == domain.RiskCritical {
			n++
		}
	}
	return n
}

func criticalIDs(entities []domain.ScoredEntity, limit int) []string {
	ids := make([]string, 0)
	for _, e := range entities {
		if e.RiskLevel != domain.RiskCritical {
			continue
		}
		if len(ids) == limit {
			break
		}
		ids = append(ids, e.ID)
	}
	return ids
}

// Stop gracefully stops the worker and waits for running analyses.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Running           int      `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Running:           len(w.sem),
	}
}
