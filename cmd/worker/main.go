package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gympulse/gympulse-api/internal/repository"
	"github.com/gympulse/gympulse-api/internal/service"
	"github.com/gympulse/gympulse-api/internal/worker"
	"github.com/gympulse/gympulse-api/pkg/cache"
	"github.com/gympulse/gympulse-api/pkg/config"
	"github.com/gympulse/gympulse-api/pkg/database"
	"github.com/gympulse/gympulse-api/pkg/export"
	"github.com/gympulse/gympulse-api/pkg/logger"
	"github.com/gympulse/gympulse-api/pkg/queue"
	"github.com/gympulse/gympulse-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	broker := queue.NewBroker(redisClient, cfg.Queue, logr)
	metrics := service.NewMetricsService()

	visitRepo := repository.NewVisitRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	churnRepo := repository.NewChurnRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Churn.CacheTTL, logr, true)

	artifacts, err := storage.NewLocalStorage(cfg.Churn.ModelPath)
	if err != nil {
		logr.Sugar().Fatalw("failed to open model storage", "error", err)
	}
	reportSink, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to open report storage", "error", err)
	}

	features := service.NewFeatureService(cfg.Churn)
	churnService := service.NewChurnService(churnRepo, studentRepo, visitRepo, features, cacheService, artifacts, metrics, logr, cfg.Churn)
	processor := service.NewVisitProcessor(visitRepo, cacheService, logr)

	var renderer interface {
		Render(doc export.Document) ([]byte, error)
	}
	if cfg.Reports.Format == "pdf" {
		renderer = export.NewPDFExporter()
	} else {
		renderer = export.NewCSVExporter()
	}
	reportService := service.NewReportService(visitRepo, renderer, reportSink, logr, cfg.Reports.Format)

	pool := worker.NewPool(logr)
	pool.Add(worker.New(broker, queue.StreamCheckin, processor.HandleCheckin, logr, metrics))
	pool.Add(worker.New(broker, queue.StreamCheckinBatch, processor.HandleBatch, logr, metrics))
	if cfg.Churn.Enabled {
		pool.Add(worker.New(broker, queue.StreamModelTrain, churnService.HandleTrain, logr, metrics))
		pool.Add(worker.New(broker, queue.StreamModelScore, churnService.HandleScore, logr, metrics))
	}
	if cfg.Reports.Enabled {
		pool.Add(worker.New(broker, queue.StreamReportDaily, reportService.HandleReport, logr, metrics))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logr.Sugar().Infow("worker starting",
		"group", cfg.Queue.Group, "consumer", broker.Consumer())
	pool.Start(ctx)

	<-ctx.Done()
	logr.Info("shutting down, draining in-flight messages")
	pool.Wait()
	logr.Info("worker stopped")
}
