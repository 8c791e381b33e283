package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Leadrat/Quotation-Management-System-sub012/api/swagger"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/handler"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/middleware"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/models"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/repository"
	"github.com/Leadrat/Quotation-Management-System-sub012/internal/service"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/cache"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/config"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/database"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/logger"
	corsmiddleware "github.com/Leadrat/Quotation-Management-System-sub012/pkg/middleware/cors"
	reqidmiddleware "github.com/Leadrat/Quotation-Management-System-sub012/pkg/middleware/requestid"
	"github.com/Leadrat/Quotation-Management-System-sub012/pkg/password"
)

// @title Quotation Auth API
// @version 0.1.0
// @description Authentication and session lifecycle service
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Throttling fails open without Redis; the service stays up.
		logr.Sugar().Warnw("redis unavailable, login throttling disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	resetRepo := repository.NewPasswordResetRepository(db)
	limiter := repository.NewRateLimitRepository(redisClient)

	hasher := password.New(cfg.Auth.BcryptCost)
	codec := service.NewTokenCodec(service.TokenConfig{
		Secret:            cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		AccessTokenExpiry: cfg.JWT.Expiration,
		RefreshExpiry:     cfg.JWT.RefreshExpiration,
	})

	metricsSvc := service.NewMetricsService()

	mailQueue := service.NewMailQueue(cfg.Auth.MailerWorkers, cfg.Auth.MailerQueueBuffer, logr)
	mailQueue.Start(context.Background())
	defer mailQueue.Stop()
	mailer := service.NewMailDispatcher(mailQueue, logr)

	authSvc := service.NewAuthService(userRepo, tokenRepo, limiter, hasher, codec, metricsSvc, nil, logr, service.AuthConfig{
		ThrottleAttempts: cfg.Auth.ThrottleAttempts,
		ThrottleWindow:   cfg.Auth.ThrottleWindow,
	})
	resetSvc := service.NewPasswordResetService(userRepo, resetRepo, tokenRepo, limiter, mailer, hasher, codec, metricsSvc, nil, logr, service.PasswordResetConfig{
		TokenTTL:         cfg.Auth.ResetTokenTTL,
		ThrottleAttempts: cfg.Auth.ThrottleAttempts,
		ThrottleWindow:   cfg.Auth.ThrottleWindow,
	})
	userSvc := service.NewUserService(userRepo, hasher, nil, logr)
	auditSvc := service.NewAuditService(userRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc, resetSvc, userSvc)
	userHandler := handler.NewUserHandler(userSvc)
	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		authed := auth.Group("")
		authed.Use(middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	users := api.Group("/users")
	users.Use(middleware.JWT(authSvc))
	{
		users.GET("", middleware.RequireCapability(models.CapabilityUsersRead), userHandler.List)
		users.GET("/:id", middleware.RequireCapabilityOrSelf(models.CapabilityUsersRead), userHandler.Get)
		users.POST("", middleware.RequireCapability(models.CapabilityUsersManage), userHandler.Create)
		users.PUT("/:id", middleware.RequireCapability(models.CapabilityUsersManage), userHandler.Update)
		users.DELETE("/:id", middleware.RequireCapability(models.CapabilityUsersManage), userHandler.Delete)
	}

	api.GET("/audit",
		middleware.JWT(authSvc),
		middleware.RequireCapability(models.CapabilityAuditRead),
		middleware.Audit(userRepo, models.AuditActionAuditView, "audit"),
		auditHandler.List,
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
