package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/cache"
	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/database"
	"github.com/harborstay/booking-backend/internal/events"
	"github.com/harborstay/booking-backend/internal/handlers"
	"github.com/harborstay/booking-backend/internal/middleware"
	"github.com/harborstay/booking-backend/internal/services"
	"github.com/harborstay/booking-backend/pkg/jwt"
	"github.com/harborstay/booking-backend/pkg/metrics"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting HarborStay Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize services
	logger.Info("Initializing services...")
	m := metrics.NewMetrics("harborstay", prometheus.DefaultRegisterer)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.TokenExpiry)
	bookingRepo := database.NewBookingRepository(db.DB)
	auditRepo := database.NewPaymentAuditRepository(db.DB, logger)
	checkoutService := services.NewCheckoutService(&cfg.Checkout, logger, m)
	if !checkoutService.IsConfigured() {
		logger.Warn("Checkout gateway is not configured; bookings will be created without payment sessions")
	}

	// Optional session snapshot cache
	var sessionCache services.SessionCache
	var redisCache *cache.SessionCache
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewSessionCache(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable; session snapshot cache disabled")
		} else {
			sessionCache = redisCache
			logger.Info("Session snapshot cache enabled")
		}
	}

	// Optional booking event stream
	var publisher services.EventPublisher
	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka, logger)
		publisher = producer
		logger.WithField("topic", cfg.Kafka.Topic).Info("Booking event publishing enabled")
	}

	bookingService := services.NewBookingService(
		bookingRepo,
		auditRepo,
		checkoutService,
		sessionCache,
		publisher,
		m,
		services.BookingServiceConfig{
			DefaultCurrency: cfg.Booking.DefaultCurrency,
			PendingTTL:      cfg.Booking.PendingTTL,
			SweepBatchSize:  100,
		},
		logger,
	)

	rateLimiter := services.NewRateLimitService(
		cfg.RateLimit.MaxAttempts,
		time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute,
	)
	rateLimiter.StartCleanup(5 * time.Minute)

	// Pending expiry sweep
	expirationService := services.NewExpirationService(
		bookingService,
		cfg.Booking.PendingTTL,
		cfg.Booking.ExpirySweepInterval,
		logger,
	)
	expirationService.Start()
	logger.Info("Pending booking expiry sweep started")

	// Scheduled jobs: stay completion and PII redaction
	cronService := services.NewCronService(bookingService, bookingRepo, cfg.Booking.RetentionDays, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Cron service started")

	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, rateLimiter, logger)
	paymentHandler := handlers.NewPaymentHandler(bookingService, rateLimiter, auditRepo, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(requestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Operational endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Payment notification ingress (public; authenticated by its HMAC
		// signature, not a bearer token)
		v1.POST("/payments/webhook", paymentHandler.Webhook)

		// Booking routes (protected)
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/payment/retry", bookingHandler.RetryPayment)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
			bookings.GET("/:id/audit", middleware.RequireRole("admin"), paymentHandler.GetAuditTrail)
		}

		// Client-side payment confirmation (protected)
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthMiddleware(jwtService))
		{
			payments.POST("/confirm", paymentHandler.ConfirmPayment)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole("admin"))
		{
			admin.POST("/bookings/:id/complete", bookingHandler.CompleteBooking)
			admin.GET("/payments/sessions/:session_id/audit", paymentHandler.GetSessionAuditTrail)
			admin.GET("/payments/amount-mismatches", paymentHandler.ListAmountMismatches)

			admin.POST("/cron/complete-stays", func(c *gin.Context) {
				cronService.RunCompleteStaysNow()
				c.JSON(200, gin.H{"message": "Stay completion triggered"})
			})

			admin.GET("/cron/status", func(c *gin.Context) {
				c.JSON(200, cronService.JobStatus())
			})
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop background services before draining HTTP
	expirationService.Stop()
	cronService.Stop()
	rateLimiter.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event producer")
		}
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close session cache")
		}
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
		} else {
			status := c.Writer.Status()
			if status >= 500 {
				entry.Error("Request completed with server error")
			} else if status >= 400 {
				entry.Warn("Request completed with client error")
			} else {
				entry.Info("Request completed successfully")
			}
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *database.PostgresDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
