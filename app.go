package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/streamforge/backend/internal/checksum"
	"github.com/streamforge/backend/internal/config"
	httpapi "github.com/streamforge/backend/internal/http"
	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/queue"
	"github.com/streamforge/backend/internal/realtime"
	"github.com/streamforge/backend/internal/storage"
	"github.com/streamforge/backend/internal/transcode"
	"github.com/streamforge/backend/internal/video"
)

// App holds all application dependencies
type App struct {
	ctx    context.Context
	Config *config.Config
	logger logger.Logger

	db      *gorm.DB
	redis   *redis.Client
	storage *storage.S3Service
	queue   *queue.Queue
	workers *queue.WorkerPool

	hub        *realtime.Hub
	wsHandler  *realtime.Handler
	relayStop  context.CancelFunc
	video      *video.Service
	handler    *video.Handler
	router     *gin.Engine
	workerStop context.CancelFunc
}

// NewApp creates a new application instance with all dependencies
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	db, err := initDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	store, err := storage.NewS3Service(&cfg.Storage.S3, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %v", err)
	}

	jobQueue := queue.NewQueue(rdb, &cfg.Queue, log)
	publisher := realtime.NewPublisher(rdb, log)

	videoService := video.NewService(db, store, jobQueue, publisher, &cfg.Upload, cfg.Storage.S3.Bucket, log)

	ffmpeg := transcode.NewFFmpeg(&cfg.Ffmpeg, log)
	pipeline := transcode.NewPipeline(db, store, ffmpeg, publisher, &cfg.Ffmpeg,
		cfg.Storage.S3.Bucket, cfg.Storage.TempDir, log)
	validator := checksum.NewValidator(db, store, publisher, cfg.Storage.S3.Bucket, log)

	workers := queue.NewWorkerPool(jobQueue, log)
	workers.Register(video.JobKindTranscode, pipeline.HandleJob)
	workers.Register(video.JobKindValidate, validator.HandleJob)

	hub := realtime.NewHub(log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	app := &App{
		ctx:       ctx,
		Config:    cfg,
		logger:    log,
		db:        db,
		redis:     rdb,
		storage:   store,
		queue:     jobQueue,
		workers:   workers,
		hub:       hub,
		wsHandler: realtime.NewHandler(hub, log),
		video:     videoService,
		handler:   video.NewHandler(videoService, httpapi.NewResponseHandler(log), log),
		router:    router,
	}
	app.setupRoutes()
	return app, nil
}

// Run starts the worker pool, the status relay and the HTTP server
func (a *App) Run() error {
	workerCtx, stopWorkers := context.WithCancel(a.ctx)
	a.workerStop = stopWorkers
	a.workers.Start(workerCtx)

	relayCtx, stopRelay := context.WithCancel(a.ctx)
	a.relayStop = stopRelay
	go a.hub.Relay(relayCtx, a.redis)

	port := a.Config.Server.Port
	a.logger.LogInfo(fmt.Sprintf("Starting server on port %d", port), nil)
	if err := a.router.Run(fmt.Sprintf(":%d", port)); err != nil {
		return a.logger.LogError(err, "server failed to start")
	}
	return nil
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	a.logger.LogInfo("Initiating graceful shutdown", nil)

	if a.workerStop != nil {
		a.workerStop()
	}
	a.workers.Stop()

	if a.relayStop != nil {
		a.relayStop()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.LogWarn("Error closing redis connection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			a.logger.LogWarn("Error getting underlying database instance", map[string]interface{}{
				"error": err.Error(),
			})
		} else if err := sqlDB.Close(); err != nil {
			a.logger.LogWarn("Error closing database connections", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	a.logger.LogInfo("Graceful shutdown complete", nil)
	return nil
}
