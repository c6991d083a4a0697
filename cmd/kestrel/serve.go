package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"export", cfg.Export.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	scorer, set, err := a.scorer()
	if err != nil {
		return err
	}
	defer set.Close()
	slog.Info("rule engine initialized", "rule_sets", set.Count())

	reg := metrics.New()

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// SQL export is optional; the API runs without it.
	sink, err := export.NewSQLSink(cfg.Export)
	if err != nil {
		slog.Warn("SQL export disabled", "driver", cfg.Export.Driver, "error", err)
	} else {
		defer sink.Close()
		slog.Info("export sink initialized", "driver", cfg.Export.Driver)
	}

	svc := analysis.New(scorer, cacheImpl, analysis.Options{
		ResultTTL: cfg.Cache.ResultTTL,
		Metrics:   reg,
	})

	var asyncWorker *worker.Worker
	if cfg.Jobs.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc, cacheImpl, worker.Config{
			Concurrency: cfg.Engine.MaxWorkers / 8,
			ResultTTL:   time.Duration(cfg.Jobs.ResultTTL) * time.Second,
			Metrics:     reg,
		})
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("async worker started")
	}

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Analysis: svc,
		Worker:   asyncWorker,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Sink:     sink,
		Metrics:  reg,
		Version:  Version,
	}, limiter)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  risk intelligence engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /v1/modules                   - List modules")
	fmt.Println("    GET  /v1/modules/{module}/rules    - Show a module's rule sets")
	fmt.Println("    POST /v1/modules/{module}/analyze  - Analyze a CSV upload")
	fmt.Println("    POST /v1/modules/{module}/export   - Export scored rows")
	fmt.Println("    POST /v1/modules/{module}/jobs     - Submit an async analysis")
	fmt.Println("    GET  /v1/jobs/{id}                 - Get job status and report")
	fmt.Println("    GET  /v1/exports                   - List SQL exports")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
