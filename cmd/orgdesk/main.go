package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgdesk/orgdesk/internal/app"
	"github.com/orgdesk/orgdesk/internal/audit"
	"github.com/orgdesk/orgdesk/internal/auth"
	"github.com/orgdesk/orgdesk/internal/deletion"
	"github.com/orgdesk/orgdesk/internal/export"
	"github.com/orgdesk/orgdesk/internal/observability"
	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/cache"
	"github.com/orgdesk/orgdesk/internal/sessions"
	"github.com/orgdesk/orgdesk/internal/shared"
	"github.com/orgdesk/orgdesk/internal/transfer"
	"github.com/orgdesk/orgdesk/jobs"
)

// exportBridge adapts the export service and the job queue to the deletion
// lifecycle's Exporter contract. Permanent deletions export synchronously;
// soft deletions enqueue a background job.
type exportBridge struct {
	exports *export.Service
	client  *jobs.Client
}

func (b exportBridge) ExportNow(ctx context.Context, orgID uuid.UUID, format string) (string, error) {
	result, err := b.exports.Export(ctx, orgID, export.Format(format), nil)
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

func (b exportBridge) EnqueueExport(ctx context.Context, orgID uuid.UUID, format string) error {
	_, err := b.client.EnqueueOrgExport(ctx, jobs.OrgExportPayload{OrgID: orgID, Format: format})
	return err
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Sessions live in redis, so unlike the database pool there is no
	// degraded mode worth starting in.
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

	sessionManager := shared.NewSessionManager(redisClient, "orgdesk_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)

	registry := sessions.NewService(sessions.NewRedisStore(redisClient), auditLogger, logger, cfg.SessionTTL)
	sessionsHandler := sessions.NewHandler(logger, registry)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, registry)

	orgRepo := org.NewRepository(dbpool)
	orgService := org.NewService(orgRepo, auditLogger, logger)
	orgHandler := org.NewHandler(logger, orgService)

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

	exportService := export.NewService(orgRepo, export.FileStore{Dir: cfg.ExportDir}, logger)

	deletionRepo := deletion.NewRepository(dbpool)
	deletionService := deletion.NewService(
		deletionRepo,
		exportBridge{exports: exportService, client: jobClient},
		notifier,
		auditLogger,
		logger,
		deletion.ServiceConfig{ExportTimeout: cfg.ExportSyncTimeout},
	)
	deletionHandler := deletion.NewHandler(logger, deletionService)

	transferRepo := transfer.NewRepository(dbpool)
	transferService := transfer.NewService(transferRepo, notifier, auditLogger, logger)
	transferHandler := transfer.NewHandler(logger, transferService)

	exportHandler := export.NewHandler(logger, exportService, deletionRepo)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, deletionRepo)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		Registry:        registry,
		AuthHandler:     authHandler,
		OrgHandler:      orgHandler,
		DeletionHandler: deletionHandler,
		TransferHandler: transferHandler,
		ExportHandler:   exportHandler,
		SessionsHandler: sessionsHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
