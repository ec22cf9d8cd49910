package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"onboarding-service/internal/clients"
	"onboarding-service/internal/config"
	"onboarding-service/internal/events"
	"onboarding-service/internal/handlers"
	"onboarding-service/internal/middleware"
	"onboarding-service/internal/models"
	"onboarding-service/internal/redis"
	"onboarding-service/internal/repository"
	"onboarding-service/internal/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}

	if err := autoMigrate(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}

	// Redis is a soft dependency: drafts and availability caching degrade
	// gracefully when it is unreachable.
	cache, err := redis.NewClient(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, drafts and availability caching disabled")
		cache = nil
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	publisher, err := events.NewPublisher(natsURL, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize events publisher, events won't be published")
		publisher = nil
	}

	// Collaborator clients
	availabilityClient := clients.NewAvailabilityClient(cfg.Collaborators.AvailabilityURL, cfg.Collaborators.AvailabilityKey)
	otpClient := clients.NewOtpClient(cfg.Collaborators.OtpServiceURL, cfg.Collaborators.OtpServiceKey)
	taxClient := clients.NewTaxClient(cfg.Collaborators.TaxVerifierURL, cfg.Collaborators.TaxVerifierKey)
	accountClient := clients.NewAccountClient(cfg.Collaborators.AccountURL, cfg.Collaborators.AccountKey)

	// Repositories and services
	sessionRepo := repository.NewSessionRepository(db)
	gateService := services.NewGateService(cfg.Onboarding, availabilityClient, cache, sessionRepo, logger)
	otpService := services.NewOtpService(cfg.Onboarding, otpClient, sessionRepo, logger)
	sequencer := services.NewStepSequencer(cfg.Onboarding, gateService, otpService)
	onboardingService := services.NewOnboardingService(
		cfg.Onboarding,
		sessionRepo,
		sequencer,
		gateService,
		otpService,
		accountClient,
		taxClient,
		cache,
		publisher,
		logger,
	)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, cache)
	onboardingHandler := handlers.NewOnboardingHandler(onboardingService, sequencer)

	registerMetrics(db, logger)

	router := setupRouter(cfg, logger, healthHandler, onboardingHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting onboarding-service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Server forced to shutdown")
	}
	if publisher != nil {
		publisher.Close()
	}
	if cache != nil {
		_ = cache.Close()
	}

	logger.Info("Server exited")
}

func setupRouter(cfg *config.Config, logger *logrus.Logger, healthHandler *handlers.HealthHandler, onboardingHandler *handlers.OnboardingHandler) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger(logger))

	allowedOrigins := []string{"http://localhost:3000"}
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		allowedOrigins = nil
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health endpoints (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes (with API key authentication)
	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(cfg.Security.APIKey))
	{
		sessions := v1.Group("/onboarding/sessions")
		{
			sessions.POST("", onboardingHandler.StartSession)
			sessions.GET("/:id", onboardingHandler.GetSession)
			sessions.POST("/:id/steps", onboardingHandler.SubmitStep)
			sessions.POST("/:id/retreat", onboardingHandler.Retreat)
			sessions.POST("/:id/gates/check", onboardingHandler.CheckGate)
			sessions.GET("/:id/gates/:field", onboardingHandler.GetGateState)
			sessions.POST("/:id/otp/verify", onboardingHandler.VerifyOtp)
			sessions.POST("/:id/otp/resend", onboardingHandler.ResendOtp)
			sessions.GET("/:id/otp/:channel", onboardingHandler.GetChallenge)
			sessions.POST("/:id/finalize", onboardingHandler.Finalize)
			sessions.POST("/:id/abandon", onboardingHandler.Abandon)
		}
	}

	return router
}

func autoMigrate(db *gorm.DB, logger *logrus.Logger) error {
	logger.Info("Starting database migration...")

	// Enable UUID extension in PostgreSQL
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		logger.WithError(err).Warn("Failed to create uuid-ossp extension")
	}

	modelsToMigrate := []interface{}{
		&models.OnboardingSession{},
		&models.ValidationGateState{},
		&models.OtpChallenge{},
	}

	for _, model := range modelsToMigrate {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	logger.Info("Database migration completed successfully")
	return nil
}

func initDatabase(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return db, nil
}

// registerMetrics registers the gauge metrics and starts their background
// refresher. The session counters live in the services package, next to the
// code paths that increment them.
func registerMetrics(db *gorm.DB, logger *logrus.Logger) {
	activeSessions := promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fintech",
			Subsystem: "onboarding",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in progress",
		},
	)

	dbConnectionsOpen := promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fintech",
			Subsystem: "onboarding",
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
	)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			sqlDB, err := db.DB()
			if err != nil {
				logger.WithError(err).Warn("Failed to get database instance for metrics")
				continue
			}
			dbConnectionsOpen.Set(float64(sqlDB.Stats().OpenConnections))

			var count int64
			db.Model(&models.OnboardingSession{}).
				Where("status = ?", models.SessionStatusInProgress).
				Count(&count)
			activeSessions.Set(float64(count))
		}
	}()

	logger.Info("Metrics initialized successfully")
}
