// Package main runs the live session HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skillup-live/backend/config"
	"github.com/skillup-live/backend/internal/attendance"
	"github.com/skillup-live/backend/internal/auth"
	"github.com/skillup-live/backend/internal/conference"
	"github.com/skillup-live/backend/internal/devices"
	"github.com/skillup-live/backend/internal/livesessions"
	"github.com/skillup-live/backend/internal/middleware"
	"github.com/skillup-live/backend/internal/models"
	"github.com/skillup-live/backend/internal/presence"
	"github.com/skillup-live/backend/internal/realtime"
	"github.com/skillup-live/backend/internal/scheduler"
	"github.com/skillup-live/backend/pkg/database"
	"github.com/skillup-live/backend/pkg/queue"
	"github.com/skillup-live/backend/pkg/redis"
	"github.com/skillup-live/backend/pkg/response"
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

	ctx := context.Background()

	var (
		sessionStore    livesessions.Store
		deviceStore     devices.Store
		attendanceStore attendance.Store
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		sessionStore = livesessions.NewRepository(pool)
		deviceStore = devices.NewRepository(pool)
		attendanceStore = attendance.NewRepository(pool)
	default:
		logger.Warn("using in-memory stores; state is lost on restart")
		sessionStore = livesessions.NewMemoryStore()
		deviceStore = devices.NewMemoryStore()
		attendanceStore = attendance.NewMemoryStore()
	}

	var (
		pub      realtime.RedisPublisher
		sub      realtime.RedisSubscriber
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		bridge := realtime.NewRedisPubSub(rdb.Client, logger)
		pub, sub = bridge, bridge
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}
	hub := realtime.NewHub(logger, pub, sub)

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
			logger.Warn("attendance archive disabled", zap.Error(err))
		} else {
			archive = s3Client
		}
	}

	processor := attendance.NewProcessor(sessionStore, attendanceStore, archive, logger)
	var attendanceQueue livesessions.AttendanceQueue = attendance.NewInline(processor)
	if jobQueue != nil {
		attendanceQueue = jobQueue
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	sessionService := livesessions.NewService(sessionStore, hub, logger, livesessions.Options{
		HistoryDefaultLimit: cfg.Sessions.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.Sessions.HistoryMaxLimit,
		Attendance:          attendanceQueue,
	})
	tracker := presence.NewTracker(sessionStore, hub, logger)
	registry := devices.NewRegistry(deviceStore, tracker, hub, logger)
	signer := conference.NewSigner(cfg.Conference)

	sessionHandler := livesessions.NewHandler(sessionService)
	presenceHandler := presence.NewHandler(tracker, logger)
	deviceHandler := devices.NewHandler(registry)
	conferenceHandler := conference.NewHandler(sessionService, signer, logger)
	attendanceHandler := attendance.NewHandler(sessionStore, attendanceStore, archive, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", middleware.MetricsHandler())

	// Beacon leave: token and device id may ride in the query string
	router.POST("/live-sessions/:id/leave/beacon", middleware.BeaconJWT(jwtService), middleware.Device(), presenceHandler.LeaveBeacon)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService), middleware.Device(), devices.Touch(registry))
	{
		hosts := middleware.RequireRole(models.RoleAdmin, models.RoleHost)
		admins := middleware.RequireRole(models.RoleAdmin)

		ls := api.Group("/live-sessions")
		ls.GET("/live", sessionHandler.Live)
		ls.GET("/upcoming", sessionHandler.Upcoming)
		ls.GET("/history", sessionHandler.History)
		ls.GET("/my-active", presenceHandler.MyActive)
		ls.GET("/reference/:type/:referenceId", sessionHandler.ByReference)
		ls.GET("", admins, sessionHandler.List)
		ls.POST("", hosts, sessionHandler.Create)
		ls.GET("/:id", sessionHandler.GetByID)
		ls.PUT("/:id", hosts, sessionHandler.Update)
		ls.DELETE("/:id", hosts, sessionHandler.Delete)
		ls.PATCH("/:id/start", hosts, sessionHandler.Start)
		ls.PATCH("/:id/end", hosts, sessionHandler.End)
		ls.PATCH("/:id/cancel", hosts, sessionHandler.Cancel)
		ls.POST("/:id/join", presenceHandler.Join)
		ls.POST("/:id/leave", presenceHandler.Leave)
		ls.POST("/:id/transfer/here", presenceHandler.TransferHere)
		ls.GET("/:id/conference", conferenceHandler.GetRoom)
		ls.GET("/:id/attendance", hosts, attendanceHandler.Get)

		api.POST("/devices", deviceHandler.Register)
		api.GET("/devices", deviceHandler.List)
		api.DELETE("/devices", deviceHandler.RevokeAll)
		api.DELETE("/devices/:deviceId", deviceHandler.Revoke)
	}

	// WebSocket (token in query; anonymous connections receive public events only)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.Validate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go hub.Run(bgCtx)

	// Without Redis there is no separate worker, so the sweeps run here.
	var cron *scheduler.Scheduler
	if jobQueue == nil {
		cron, err = scheduler.New(cfg.Sessions, sessionService, registry, logger)
		if err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
		cron.Start()
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if cron != nil {
		cron.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	bgCancel()
	logger.Info("server stopped")
}

func newLogger() (*zap.Logger, zap.AtomicLevel) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger, config.Level
}
