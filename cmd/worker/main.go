package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgdesk/orgdesk/internal/app"
	"github.com/orgdesk/orgdesk/internal/deletion"
	"github.com/orgdesk/orgdesk/internal/export"
	jobmetrics "github.com/orgdesk/orgdesk/internal/jobs"
	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/cache"
	"github.com/orgdesk/orgdesk/internal/shared"
	"github.com/orgdesk/orgdesk/internal/transfer"
	"github.com/orgdesk/orgdesk/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewNotifier(jobClient)
	auditLogger := shared.NewAuditLogger(pool)

	orgRepo := org.NewRepository(pool)
	exportService := export.NewService(orgRepo, export.FileStore{Dir: cfg.ExportDir}, logger)

	// The sweeper never exports: purges it executes were scheduled with any
	// requested export already enqueued at finalize time.
	deletionRepo := deletion.NewRepository(pool)
	deletionService := deletion.NewService(deletionRepo, nil, notifier, auditLogger, logger, deletion.ServiceConfig{})

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, notifier, auditLogger, logger)

	metrics := jobmetrics.NewMetrics(nil)

	exportJob := &jobs.OrgExportJob{Exports: exportService, Logger: logger, Metrics: metrics}
	purgeJob := &jobs.PurgeSweepJob{Deletions: deletionService, Logger: logger, Metrics: metrics}
	expiryJob := &jobs.TransferExpiryJob{Transfers: transferService, Logger: logger, Metrics: metrics}

	purgeTask, err := jobs.NewPurgeSweepTask(0)
	if err != nil {
		logger.Error("build purge sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewTransferExpiryTask(0)
	if err != nil {
		logger.Error("build transfer expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeOrgExport, Handler: exportJob.Handle},
			{Type: jobs.TaskTypePurgeSweep, Handler: purgeJob.Handle},
			{Type: jobs.TaskTypeTransferExpiry, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PurgeSweepCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.TransferExpiryCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
