package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/tutorhive/tutorhive-api/api/swagger"
	"github.com/tutorhive/tutorhive-api/internal/handler"
	"github.com/tutorhive/tutorhive-api/internal/middleware"
	"github.com/tutorhive/tutorhive-api/internal/repository"
	"github.com/tutorhive/tutorhive-api/internal/service"
	"github.com/tutorhive/tutorhive-api/pkg/cache"
	"github.com/tutorhive/tutorhive-api/pkg/config"
	"github.com/tutorhive/tutorhive-api/pkg/database"
	"github.com/tutorhive/tutorhive-api/pkg/feed"
	"github.com/tutorhive/tutorhive-api/pkg/jobs"
	"github.com/tutorhive/tutorhive-api/pkg/logger"
	corsmiddleware "github.com/tutorhive/tutorhive-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tutorhive/tutorhive-api/pkg/middleware/requestid"
)

// @title TutorHive Scheduling API
// @version 1.0.0
// @description Recurring routine scheduling, conflict detection and multi-party agreement for the tutoring marketplace
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.Database.MigrationsDir); err != nil {
		logr.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, realtime pushes disabled", zap.Error(err))
	}

	routineRepo := repository.NewRoutineRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	lockRepo := repository.NewOccurrenceLockRepository(db)
	requestRepo := repository.NewChangeRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)

	var publisher service.RealtimePublisher = service.NoopPublisher{}
	if redisClient != nil {
		publisher = service.NewRedisPublisher(redisClient)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	tokens := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiration)
	notifierSvc := service.NewNotifierService(notificationRepo, publisher, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)
	conflictSvc := service.NewConflictService(scheduleRepo, logr)
	scheduleSvc := service.NewScheduleService(scheduleRepo, conflictSvc, courseRepo, notifierSvc, cfg.Demo.MaxClasses, validate, logr)
	routineSvc := service.NewRoutineService(routineRepo, courseRepo, notifierSvc, validate, logr)
	acceptanceSvc := service.NewAcceptanceService(requestRepo, routineRepo, scheduleRepo, conflictSvc, scheduleSvc, notifierSvc, logr)
	engine := service.NewRoutineEngine(routineRepo, scheduleRepo, lockRepo, conflictSvc, notifierSvc, metrics, cfg.Engine, logr)
	feedSigner := feed.NewSigner(cfg.JWT.Secret, 0)
	exportSvc := service.NewExportService(scheduleRepo, userRepo, courseRepo, feedSigner, logr)

	notifierSvc.Start(ctx)
	defer notifierSvc.Stop()

	scheduler := cron.New()
	if cfg.Engine.Enabled {
		if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Engine.TickInterval), func() {
			if err := engine.Tick(ctx); err != nil {
				logr.Error("engine tick failed", zap.Error(err))
			}
		}); err != nil {
			logr.Fatal("failed to schedule engine tick", zap.Error(err))
		}
		if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Engine.ReminderInterval), func() {
			if err := engine.RemindUpcoming(ctx); err != nil {
				logr.Error("reminder pass failed", zap.Error(err))
			}
		}); err != nil {
			logr.Fatal("failed to schedule reminder pass", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	routineHandler := handler.NewRoutineHandler(routineSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc, acceptanceSvc)
	requestHandler := handler.NewChangeRequestHandler(acceptanceSvc)
	notificationHandler := handler.NewNotificationHandler(notifierSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/feed/timetable", exportHandler.Feed)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokens))
	{
		api.POST("/routines", routineHandler.Create)
		api.GET("/routines", routineHandler.List)
		api.GET("/routines/:id", routineHandler.Get)
		api.POST("/routines/:id/respond", routineHandler.Respond)
		api.PUT("/routines/:id/status", routineHandler.SetStatus)
		api.POST("/routines/:id/change-requests", requestHandler.ProposeWeekly)

		api.POST("/schedules", scheduleHandler.Create)
		api.GET("/schedules", scheduleHandler.List)
		api.GET("/schedules/export", exportHandler.Timetable)
		api.POST("/schedules/export/link", exportHandler.FeedLink)
		api.GET("/schedules/:id", scheduleHandler.Get)
		api.POST("/schedules/:id/respond", scheduleHandler.Respond)
		api.POST("/schedules/:id/cancel", scheduleHandler.Cancel)
		api.POST("/schedules/:id/complete", scheduleHandler.Complete)
		api.POST("/schedules/:id/change-requests", requestHandler.ProposeReschedule)

		api.GET("/change-requests", requestHandler.List)
		api.GET("/change-requests/:id", requestHandler.Get)
		api.POST("/change-requests/:id/respond", requestHandler.Respond)

		api.GET("/notifications", notificationHandler.List)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "engine", cfg.Engine.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
