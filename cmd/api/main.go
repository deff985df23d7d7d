package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/approval"
	"github.com/nordpm/dashboard-api/internal/auth"
	"github.com/nordpm/dashboard-api/internal/config"
	"github.com/nordpm/dashboard-api/internal/database"
	"github.com/nordpm/dashboard-api/internal/http/handler"
	"github.com/nordpm/dashboard-api/internal/http/middleware"
	"github.com/nordpm/dashboard-api/internal/http/router"
	"github.com/nordpm/dashboard-api/internal/jobs"
	"github.com/nordpm/dashboard-api/internal/logger"
	"github.com/nordpm/dashboard-api/internal/money"
	"github.com/nordpm/dashboard-api/internal/pmstore"
	"github.com/nordpm/dashboard-api/internal/repository"
	"github.com/nordpm/dashboard-api/internal/service"
	"github.com/nordpm/dashboard-api/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting application",
		zap.String("app", basicCfg.App.Name),
		zap.String("env", basicCfg.App.Environment),
		zap.Int("port", basicCfg.App.Port),
	)

	// Load full configuration with secrets
	// In development: uses environment variables
	// In staging/production: fetches from Azure Key Vault
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	// Connect to database
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize storage
	fileStorage, err := storage.NewStorage(&cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Info("Storage initialized", zap.String("mode", cfg.Storage.Mode))

	// Initialize the PM store client (the upstream that owns projects,
	// line items, deliverables and documents)
	store, err := pmstore.NewClient(&cfg.Upstream, log)
	if err != nil {
		return fmt.Errorf("failed to initialize PM store client: %w", err)
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	failureRepo := repository.NewApprovalFailureRepository(db)

	// Approval task dispatcher (best effort, off the request path)
	dispatcher := approval.NewDispatcher(&cfg.Approvals, store, failureRepo, log)
	dispatcher.Start()

	// Amount scale heuristic shared by every service
	norm := money.Normalizer{
		Threshold: cfg.Amounts.ScaleThreshold,
		Scale:     cfg.Amounts.Scale,
	}

	// Initialize services
	projectService := service.NewProjectService(store, norm, cfg.Amounts.Currency, log)
	boqService := service.NewBOQService(sessionRepo, store, dispatcher, norm, cfg.Amounts.Currency, cfg.Sessions.TTL(), log)
	deliverableService := service.NewDeliverableService(sessionRepo, store, documentRepo, dispatcher, norm, cfg.Amounts.Currency, cfg.Sessions.TTL(), log)
	documentService := service.NewDocumentService(documentRepo, store, dispatcher, fileStorage, cfg.Storage.MaxUploadSizeMB, log)

	// Initialize middleware
	authMiddleware := auth.NewMiddleware(cfg, log)
	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)

	// Initialize handlers
	projectHandler := handler.NewProjectHandler(projectService, log)
	boqHandler := handler.NewBOQHandler(boqService, log)
	deliverableHandler := handler.NewDeliverableHandler(deliverableService, log)
	documentHandler := handler.NewDocumentHandler(documentService, cfg.Storage.MaxUploadSizeMB, log)

	// Setup router
	rt := router.NewRouter(
		cfg,
		log,
		db,
		authMiddleware,
		rateLimiter,
		projectHandler,
		boqHandler,
		deliverableHandler,
		documentHandler,
	)

	// Initialize and start scheduler for the session expiry sweep
	scheduler := jobs.NewScheduler(log)
	cleanupJob := jobs.NewSessionCleanupJob(sessionRepo, log, time.Minute)
	if err := scheduler.AddJob(jobs.SessionCleanupJobName, cfg.Sessions.CleanupSchedule, cleanupJob.Run); err != nil {
		return fmt.Errorf("failed to register session cleanup job: %w", err)
	}
	scheduler.Start()

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      rt.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Stop the scheduler; running jobs complete
		schedCtx := scheduler.Stop()
		<-schedCtx.Done()
		log.Info("Scheduler stopped")

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown gracefully", zap.Error(err))
			return err
		}

		// Drain the approval dispatch queue last; tasks already accepted
		// should still reach the PM store
		dispatcher.Stop()

		log.Info("Server stopped gracefully")
	}

	return nil
}
