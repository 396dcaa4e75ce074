package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/uni-enrollment-api/api/swagger"
	"github.com/noah-isme/uni-enrollment-api/internal/handler"
	"github.com/noah-isme/uni-enrollment-api/internal/middleware"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/repository"
	"github.com/noah-isme/uni-enrollment-api/internal/service"
	"github.com/noah-isme/uni-enrollment-api/pkg/cache"
	"github.com/noah-isme/uni-enrollment-api/pkg/config"
	"github.com/noah-isme/uni-enrollment-api/pkg/database"
	"github.com/noah-isme/uni-enrollment-api/pkg/jobs"
	"github.com/noah-isme/uni-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-enrollment-api/pkg/middleware/requestid"
	"github.com/noah-isme/uni-enrollment-api/pkg/storage"
)

// @title University Enrollment API
// @version 1.0.0
// @description Group enrollment and change-request backend
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, demand cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	enrollmentService := service.NewEnrollmentService(groupRepo, enrollmentRepo, studentRepo, userRepo, metrics, validate, logr)
	calendarService := service.NewCalendarService(calendarRepo, logr)
	groupService := service.NewGroupService(groupRepo, courseRepo, validate, logr)

	sequencer := service.NewSequencer()
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	maxRank, err := changeRequestRepo.MaxPriorityRank(seedCtx)
	if err != nil {
		cancelSeed()
		logr.Sugar().Fatalw("failed to seed priority sequence", "error", err)
	}
	maxSerial, err := changeRequestRepo.MaxTrackingSerial(seedCtx)
	cancelSeed()
	if err != nil {
		logr.Sugar().Fatalw("failed to seed tracking sequence", "error", err)
	}
	sequencer.Seed(maxRank, maxSerial)

	changeRequestService := service.NewChangeRequestService(
		changeRequestRepo,
		sequencer,
		calendarService,
		enrollmentService,
		groupRepo,
		courseRepo,
		enrollmentRepo,
		userRepo,
		validate,
		logr,
		service.WithDemandInvalidator(cacheRepo),
		service.WithChangeRequestMetrics(metrics),
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reportService *service.ReportService
	var reportQueue *jobs.Queue
	if cfg.Reports.Enabled {
		localStorage, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exporter := service.NewExportService(changeRequestRepo, localStorage, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, nil, nil)
		worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		reportQueue.Start(rootCtx)
		defer reportQueue.Stop()

		reportService = service.NewReportService(reportRepo, changeRequestRepo, cacheRepo, reportQueue, exporter, logr, service.ReportServiceConfig{
			DemandCacheTTL:  cfg.Requests.DemandCacheTTL,
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportService.RecoverPendingJobs(rootCtx)
		reportService.StartCleanup(rootCtx)
	}

	authHandler := handler.NewAuthHandler(authService)
	groupHandler := handler.NewGroupHandler(groupService, enrollmentService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	changeRequestHandler := handler.NewChangeRequestHandler(changeRequestService)
	calendarHandler := handler.NewCalendarHandler(calendarService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/me", middleware.JWT(authService), authHandler.Me)

	authed := api.Group("", middleware.JWT(authService))

	groups := authed.Group("/groups")
	groups.GET("", groupHandler.List)
	groups.GET("/:id", groupHandler.Get)
	groups.POST("", middleware.RequireRoles(models.RoleAdmin), groupHandler.Create)
	groups.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), groupHandler.Delete)
	groups.GET("/:id/queue", middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin), changeRequestHandler.Queue)

	enrollments := authed.Group("/enrollments")
	enrollments.GET("", middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin), enrollmentHandler.List)
	enrollments.POST("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Enroll)
	enrollments.DELETE("", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Drop)

	requests := authed.Group("/change-requests")
	requests.POST("", middleware.RequireRoles(models.RoleStudent), changeRequestHandler.Submit)
	requests.GET("", changeRequestHandler.List)
	requests.GET("/:id", changeRequestHandler.Get)
	requests.POST("/:id/approve", middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin), changeRequestHandler.Approve)
	requests.POST("/:id/reject", middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin), changeRequestHandler.Reject)
	requests.POST("/:id/cancel", middleware.RequireRoles(models.RoleStudent), changeRequestHandler.Cancel)

	authed.GET("/tracking/:trackingNumber", changeRequestHandler.Track)

	authed.POST("/calendar/windows", middleware.RequireRoles(models.RoleAdmin), calendarHandler.OpenWindow)
	authed.GET("/calendar/windows/status", calendarHandler.WindowStatus)

	if reportService != nil {
		reportHandler := handler.NewReportHandler(reportService)
		reports := authed.Group("/reports", middleware.RequireRoles(models.RoleReviewer, models.RoleAdmin))
		reports.GET("/demand", reportHandler.Demand)
		reports.POST("/generate", reportHandler.Generate)
		reports.GET("/jobs/:id", reportHandler.Status)
		// download authenticates via the signed token instead of a JWT
		api.GET("/reports/jobs/:id/download", reportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
