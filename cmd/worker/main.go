package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{})
	if err != nil {
		logger.Error("build ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("close ledger", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	impactHandler := &jobs.ImpactHandler{Logger: logger, Metrics: metrics}
	integrityJob := jobs.NewGLIntegrityJob(ledger.Service, logger, metrics)

	integrityTask, err := jobs.NewGLIntegrityTask(jobs.GLIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		NotifyQueue: cfg.NotifyQueue,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVoucherImpact, Handler: impactHandler.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("notify_queue", cfg.NotifyQueue), slog.String("integrity_cron", cfg.IntegrityCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
