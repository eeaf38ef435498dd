// Package worker runs the background loops: pending-job draining, the
// endpoint monitor pass and the retry-queue drain. Each loop is a
// singleton; a pass that outlasts its tick simply absorbs the next one.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/service"
)

// staleJobAge is how long a job may sit in running state before a restart
// is assumed and it is failed.
const staleJobAge = time.Hour

// Worker drives the periodic background passes.
type Worker struct {
	repos          *repository.Repositories
	services       *service.Services
	pollInterval   time.Duration
	monitorEnabled bool
	monitorEvery   time.Duration
	retryEvery     time.Duration
	stop           chan struct{}
	wg             sync.WaitGroup
	logger         *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	// PollInterval is how often the pending-job queue is drained.
	PollInterval time.Duration
	// MonitorEnabled turns the endpoint monitor pass on.
	MonitorEnabled bool
	// MonitorInterval is how often due endpoints are probed.
	MonitorInterval time.Duration
	// RetryDrainInterval is how often due retries are re-run.
	RetryDrainInterval time.Duration
}

// New creates a new worker.
func New(repos *repository.Repositories, services *service.Services, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = time.Minute
	}
	if cfg.RetryDrainInterval == 0 {
		cfg.RetryDrainInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		repos:          repos,
		services:       services,
		pollInterval:   cfg.PollInterval,
		monitorEnabled: cfg.MonitorEnabled,
		monitorEvery:   cfg.MonitorInterval,
		retryEvery:     cfg.RetryDrainInterval,
		stop:           make(chan struct{}),
		logger:         logger.With("component", "worker"),
	}
}

// Start recovers stale jobs and begins the background loops.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting",
		"poll_interval", w.pollInterval,
		"monitor_enabled", w.monitorEnabled,
		"retry_drain_interval", w.retryEvery)

	// Jobs left running by a previous process are unrecoverable.
	if n, err := w.repos.ScrapeJob.MarkStaleRunningFailed(ctx, staleJobAge); err != nil {
		w.logger.Error("failed to recover stale jobs", "error", err)
	} else if n > 0 {
		w.logger.Warn("recovered stale running jobs", "count", n)
	}

	w.wg.Add(1)
	go w.loop(ctx, w.pollInterval, w.drainPending)

	w.wg.Add(1)
	go w.loop(ctx, w.retryEvery, w.drainRetries)

	if w.monitorEnabled {
		w.wg.Add(1)
		go w.loop(ctx, w.monitorEvery, w.runMonitor)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

// loop runs fn on every tick until the worker stops. Passes run inline on
// the loop goroutine, so one pass never overlaps itself.
func (w *Worker) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer w.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (w *Worker) drainPending(ctx context.Context) {
	ran, err := w.services.Ingest.DrainPending(ctx)
	if err != nil {
		w.logger.Error("pending drain failed", "error", err)
		return
	}
	if ran > 0 {
		w.logger.Info("pending drain complete", "jobs", ran)
	}
}

func (w *Worker) drainRetries(ctx context.Context) {
	ran, err := w.services.Retry.DrainDue(ctx)
	if err != nil {
		w.logger.Error("retry drain failed", "error", err)
		return
	}
	if ran > 0 {
		w.logger.Info("retry drain complete", "jobs", ran)
	}
}

func (w *Worker) runMonitor(ctx context.Context) {
	checked, err := w.services.Monitor.RunChecks(ctx)
	if err != nil {
		w.logger.Error("monitor pass failed", "error", err)
		return
	}
	if checked > 0 {
		w.logger.Debug("monitor pass complete", "endpoints", checked)
	}
}
