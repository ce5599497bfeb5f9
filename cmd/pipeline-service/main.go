package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/database"
	"github.com/jobscope/lakehouse/pkg/common/kafka"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/common/middleware"
	"github.com/jobscope/lakehouse/pkg/observability/metrics"
	"github.com/jobscope/lakehouse/pkg/pipeline"
	"github.com/jobscope/lakehouse/pkg/tasks"
)

func main() {
	logger.Init()
	cfg, _, err := config.LoadWithFile()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load pipeline config file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pipeline.OpenCatalog(ctx, cfg, 10)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	taskRepo := tasks.NewRepository(db)
	if err := taskRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate task table")
	}
	if n, err := taskRepo.FailStale(ctx, "interrupted by service restart"); err != nil {
		logger.Log.WithError(err).Error("failed to close stale tasks")
	} else if n > 0 {
		logger.Log.WithField("tasks", n).Warn("Marked interrupted tasks as failed")
	}

	var events pipeline.EventPublisher
	if cfg.KafkaEventsEnable {
		producer := kafka.NewProducer(cfg)
		defer producer.Close()
		events = producer
	}

	components, err := pipeline.Setup(ctx, cfg, db, events)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to set up pipeline")
	}

	taskCache := database.OpenTaskCache(ctx, cfg)
	taskService := tasks.NewService(taskRepo, tasks.NewCache(taskCache, cfg.TaskCacheTTL), 1)
	launcher := pipeline.NewLauncher(components.Driver, taskService)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	pipeline.NewHandler(launcher).Register(api)
	tasks.NewHandler(taskService).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go launcher.Schedule(ctx, cfg.ScheduleInterval)

	if cfg.TriggerTopic != "" {
		consumer := kafka.NewConsumer(cfg)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, launcher.HandleTrigger); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Trigger consumer stopped")
			}
		}()
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"schedule": cfg.ScheduleInterval.String(),
			"trigger":  cfg.TriggerTopic,
		}).Info("Pipeline Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Pipeline Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	taskService.Close()

	if taskCache != nil {
		if err := taskCache.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close redis")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Log.Info("Pipeline Service stopped")
}
