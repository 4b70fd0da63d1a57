// Package main runs the background worker: attendance reports from the Redis queue and the
// scheduled sweeps (overdue sessions, idle devices).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skillup-live/backend/config"
	"github.com/skillup-live/backend/internal/attendance"
	"github.com/skillup-live/backend/internal/devices"
	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/presence"
	"github.com/skillup-live/backend/internal/realtime"
	"github.com/skillup-live/backend/internal/scheduler"
	"github.com/skillup-live/backend/pkg/database"
	"github.com/skillup-live/backend/pkg/queue"
	"github.com/skillup-live/backend/pkg/redis"
	"github.com/skillup-live/backend/pkg/storage"
)

func main() {
	logger, level := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if l, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
		level.SetLevel(l)
	}
	if cfg.Database.Driver != config.DriverPostgres || !cfg.Redis.Enabled {
		logger.Fatal("worker needs STORE_DRIVER=postgres and REDIS_ENABLED=true; single-instance servers run jobs in-process")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archive attendance.Archive
	if cfg.AWS.AttendanceBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.AttendanceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archive = s3Client
	}

	// Events raised by the sweeps reach the servers' clients through the Redis bridge.
	bridge := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, bridge, bridge)

	sessionStore := livesessions.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := attendance.NewProcessor(sessionStore, attendance.NewRepository(pool), archive, logger)
	sessionService := livesessions.NewService(sessionStore, hub, logger, livesessions.Options{
		HistoryDefaultLimit: cfg.Sessions.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.Sessions.HistoryMaxLimit,
		Attendance:          jobQueue,
	})
	tracker := presence.NewTracker(sessionStore, hub, logger)
	registry := devices.NewRegistry(devices.NewRepository(pool), tracker, hub, logger)

	cron, err := scheduler.New(cfg.Sessions, sessionService, registry, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(workerCtx)
	go processor.Run(workerCtx, jobQueue)
	cron.Start()
	logger.Info("worker started", zap.Int("scheduled_jobs", cron.Jobs()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	cron.Stop(stopCtx)
	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() (*zap.Logger, zap.AtomicLevel) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger, config.Level
}
