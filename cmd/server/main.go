package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/internal/app/controller"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	"github.com/ikkim/storecover-backend/internal/db"
	"github.com/ikkim/storecover-backend/internal/middleware"
	"github.com/ikkim/storecover-backend/internal/router"
	"github.com/ikkim/storecover-backend/internal/scheduler"
	"github.com/ikkim/storecover-backend/internal/storage"
	ws "github.com/ikkim/storecover-backend/internal/websocket"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/ikkim/storecover-backend/pkg/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	// Initialize logger
	logLevel := "info"
	logFormat := "json"
	if cfg.Server.Environment == "development" {
		logLevel = "debug"
		logFormat = "console"
	}
	logger.Initialize(logger.Config{
		Level:       logLevel,
		Format:      logFormat,
		EnableColor: true,
	})

	logger.Info("Starting StoreCover Backend Server", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"log_level":   logLevel,
	})

	// Initialize database
	if err := db.Initialize(&cfg.Database); err != nil {
		logger.Fatal("Failed to initialize database", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}
	if err := db.Seed(); err != nil {
		logger.Warn("Failed to seed pricing configs", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Redis is optional; without it tokens are not revocable
	var blacklist middleware.TokenBlacklist
	var revoker controller.TokenRevoker
	if cfg.Redis.Host != "" {
		if err := redis.Init(&cfg.Redis); err != nil {
			logger.Warn("Redis unavailable, token revocation disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer redis.Close()
			tokens := redis.NewTokenBlacklist(redis.GetClient())
			blacklist = tokens
			revoker = tokens
		}
	}

	// Certificate documents live in S3 when a bucket is configured
	var presigner controller.Presigner
	if cfg.S3.Bucket != "" {
		presigner = storage.NewS3Storage(
			cfg.S3.Region,
			cfg.S3.Bucket,
			cfg.S3.AccessKeyID,
			cfg.S3.SecretAccessKey,
			cfg.S3.BaseURL,
			cfg.S3.PresignExpiry,
		)
	}

	// Initialize repositories
	storeRepo := repository.NewStoreRepository(db.GetDB())
	policyRepo := repository.NewPolicyRepository(db.GetDB())
	auditRepo := repository.NewAuditRepository(db.GetDB())
	jobRepo := repository.NewImportJobRepository(db.GetDB())
	pricingRepo := repository.NewPricingConfigRepository(db.GetDB())

	configs, err := pricingRepo.FindAll()
	if err != nil {
		logger.Fatal("Failed to load pricing configs", err)
	}

	// Initialize services
	auditService := service.NewAuditService(auditRepo)
	pricingService := service.NewPricingService(configs, service.PricingOptions{
		ValuationMultiplier: cfg.Pricing.ValuationMultiplier,
	})
	lifecycleService := service.NewLifecycleService(storeRepo, auditService)
	policyService := service.NewPolicyService(policyRepo, pricingService, auditService)
	fileProcessor := service.NewFileProcessor(service.FileProcessorOptions{
		MinFloorArea: cfg.Pricing.MinFloorArea,
		MaxFloorArea: cfg.Pricing.MaxFloorArea,
	})
	importQueue := service.NewImportQueue(jobRepo, fileProcessor, lifecycleService, policyService, service.ImportQueueOptions{
		Retention:         cfg.Import.JobRetention,
		MaxJobs:           cfg.Import.MaxJobs,
		ContentGraceDelay: cfg.Import.ContentGraceDelay,
		DefaultCoverage:   model.CoverageType(cfg.Pricing.DefaultCoverageType),
		DurationMonths:    cfg.Pricing.DefaultDuration,
	})
	// the queue goes first so a running import finishes before its data is wiped
	sessionService := service.NewSessionService(importQueue, lifecycleService, policyService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Job events are pushed to every connected client
	hub := ws.NewHub()
	go hub.Run(ctx)
	unsubscribe := importQueue.Subscribe(func(ev service.JobEvent) {
		if err := hub.Broadcast(ev); err != nil {
			logger.Error("Failed to broadcast job event", err, map[string]interface{}{
				"job_id": ev.Job.JobID,
				"type":   ev.Type,
			})
		}
	})
	defer unsubscribe()

	importQueue.Start(ctx)
	defer importQueue.Stop()

	maintenance := scheduler.NewMaintenanceScheduler(cfg.Scheduler, importQueue, policyService, auditService)
	if err := maintenance.Start(); err != nil {
		logger.Fatal("Failed to start maintenance scheduler", err)
	}
	defer maintenance.Stop()

	// Initialize controllers
	sessionController := controller.NewSessionController(sessionService, revoker)
	importController := controller.NewImportController(importQueue, hub, cfg.Import, cfg.CORS.AllowedOrigins)
	storeController := controller.NewStoreController(lifecycleService)
	policyController := controller.NewPolicyController(policyService, lifecycleService, presigner)
	pricingController := controller.NewPricingController(pricingService, lifecycleService, pricingRepo)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist)

	r := router.NewRouter(
		sessionController,
		importController,
		storeController,
		policyController,
		pricingController,
		authMiddleware,
		cfg,
	)
	engine := r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		logger.Info("Server started successfully", map[string]interface{}{
			"address": srv.Addr,
			"pid":     os.Getpid(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}

	logger.Info("Server stopped successfully")
}
