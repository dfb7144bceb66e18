package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gympulse/gympulse-api/internal/handler"
	"github.com/gympulse/gympulse-api/internal/repository"
	"github.com/gympulse/gympulse-api/internal/service"
	"github.com/gympulse/gympulse-api/pkg/cache"
	"github.com/gympulse/gympulse-api/pkg/config"
	"github.com/gympulse/gympulse-api/pkg/database"
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

	features := service.NewFeatureService(cfg.Churn)
	churnService := service.NewChurnService(churnRepo, studentRepo, visitRepo, features, cacheService, artifacts, metrics, logr, cfg.Churn)
	checkinService := service.NewCheckinService(broker, visitRepo, studentRepo, validator.New(), metrics, logr)

	handlers := handler.Handlers{
		Checkin: handler.NewCheckinHandler(checkinService),
		Churn:   handler.NewChurnHandler(churnService, checkinService),
		Report:  handler.NewReportHandler(checkinService),
		Metrics: handler.NewMetricsHandler(metrics),
	}
	readiness := map[string]handler.ReadinessCheck{
		"postgres": func() error { return db.Ping() },
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		},
	}
	router := handler.NewRouter(cfg, logr, handlers, readiness)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
