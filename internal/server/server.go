// Package server assembles the service from configuration: stores, the
// coordinator, the progress hub, and the HTTP server, with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/crawld/internal/api"
	"github.com/webharvest/crawld/internal/clock/system"
	"github.com/webharvest/crawld/internal/config"
	"github.com/webharvest/crawld/internal/coordinator"
	"github.com/webharvest/crawld/internal/crawler"
	"github.com/webharvest/crawld/internal/fetcher"
	"github.com/webharvest/crawld/internal/id/uuid"
	"github.com/webharvest/crawld/internal/parser"
	"github.com/webharvest/crawld/internal/progress"
	"github.com/webharvest/crawld/internal/progress/sinks"
	"github.com/webharvest/crawld/internal/store/memory"
	"github.com/webharvest/crawld/internal/store/postgres"
	"github.com/webharvest/crawld/internal/structure"
)

// App holds the long-lived services of one crawld process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	coord      *coordinator.Coordinator
	hub        *progress.Hub
	srv        *http.Server
	closeFuncs []func()
}

// Build wires the service. An empty db.dsn selects the in-memory stores;
// otherwise pages, jobs, and frontier snapshots persist in Postgres.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	var (
		docs  crawler.DocumentStore
		jobs  crawler.JobStore
		ready func(ctx context.Context) error
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, fmt.Errorf("build app: %w", err)
		}
		app.closeFuncs = append(app.closeFuncs, pool.Close)
		if cfg.DB.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("build app: %w", err)
			}
		}
		docs = postgres.NewDocumentStore(pool)
		jobs = postgres.NewJobStore(pool)
		ready = pool.Ping
		logger.Info("using postgres stores")
	} else {
		docs = memory.NewDocumentStore()
		jobs = memory.NewJobStore()
		logger.Info("using in-memory stores")
	}

	index := structure.New()
	if err := index.Rebuild(ctx, docs); err != nil {
		return nil, fmt.Errorf("build app: rebuild structure index: %w", err)
	}

	app.hub = progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger.Named("progress")),
	)

	fetch := fetcher.New(fetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	app.coord = coordinator.New(ctx, coordinator.Config{
		DefaultMaxDepth:    cfg.Crawler.MaxDepthDefault,
		DefaultConcurrency: cfg.Crawler.ConcurrencyDefault,
		DefaultRetryLimit:  cfg.Crawler.RetryLimitDefault,
		DefaultMaxPending:  cfg.Crawler.MaxPendingDefault,
		DefaultHostRPS:     cfg.Crawler.HostRPSDefault,
		FetchTimeout:       cfg.FetchTimeout(),
		MinWordCount:       cfg.Crawler.MinWordCount,
		DenyPatterns:       cfg.Crawler.DenyPatterns,
		RetryBackoffBase:   time.Duration(cfg.Crawler.BackoffBaseMs) * time.Millisecond,
		RetryBackoffMax:    time.Duration(cfg.Crawler.BackoffMaxMs) * time.Millisecond,
		SnapshotInterval:   time.Duration(cfg.Crawler.SnapshotSeconds) * time.Second,
	}, fetch, parser.New(), docs, jobs, index, system.New(), uuid.New(), app.hub, logger)

	apiServer := api.NewServer(app.coord, docs, index, ready, logger.Named("api"))
	app.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app, nil
}

// Run serves HTTP until ctx is cancelled, then drains running jobs and
// flushes progress within the configured shutdown grace.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace())
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.coord.Wait(shutdownCtx); err != nil {
		a.logger.Warn("jobs still running at shutdown", zap.Error(err))
	}
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress hub close error", zap.Error(err))
	}
	for _, closeFn := range a.closeFuncs {
		closeFn()
	}
	a.logger.Info("shutdown complete")
	return nil
}
