package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Checkout gateway configuration
	Checkout CheckoutConfig

	// Redis configuration (optional session snapshot cache)
	Redis RedisConfig

	// Kafka configuration (optional booking event stream)
	Kafka KafkaConfig

	// Booking lifecycle configuration
	Booking BookingConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret      string
	TokenExpiry time.Duration
}

// CheckoutConfig holds checkout gateway configuration
type CheckoutConfig struct {
	BaseURL       string        // Gateway API base URL
	APIKey        string        // Merchant API key (SECRET - never expose to client)
	WebhookSecret string        // Shared secret for notification signatures
	Timeout       time.Duration // Per-request timeout for gateway calls
	SuccessURL    string        // Redirect target after a completed checkout
	CancelURL     string        // Redirect target when the guest abandons checkout
}

// RedisConfig holds redis configuration. Leaving Addr empty disables the
// session snapshot cache.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// KafkaConfig holds kafka configuration. Leaving Brokers empty disables
// booking event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// BookingConfig holds booking lifecycle configuration
type BookingConfig struct {
	DefaultCurrency     string
	PendingTTL          time.Duration // How long an unpaid booking stays pending
	ExpirySweepInterval time.Duration // Cadence of the pending expiry sweep
	RetentionDays       int           // Days before cancelled bookings are redacted
}

// RateLimitConfig holds payment attempt rate limiting configuration
type RateLimitConfig struct {
	MaxAttempts   int
	WindowMinutes int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
	EnableAuditLog   bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			TokenExpiry: time.Duration(getEnvAsInt("JWT_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Checkout: CheckoutConfig{
			BaseURL:       getEnv("CHECKOUT_BASE_URL", ""),
			APIKey:        getEnv("CHECKOUT_API_KEY", ""),
			WebhookSecret: getEnv("CHECKOUT_WEBHOOK_SECRET", ""),
			Timeout:       time.Duration(getEnvAsInt("CHECKOUT_TIMEOUT_SECONDS", 15)) * time.Second,
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", ""),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", ""),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			SnapshotTTL: time.Duration(getEnvAsInt("REDIS_SNAPSHOT_TTL_SECONDS", 5)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_BOOKING_TOPIC", "booking-events"),
		},
		Booking: BookingConfig{
			DefaultCurrency:     getEnv("BOOKING_DEFAULT_CURRENCY", "SGD"),
			PendingTTL:          time.Duration(getEnvAsInt("BOOKING_PENDING_TTL_MINUTES", 1440)) * time.Minute,
			ExpirySweepInterval: time.Duration(getEnvAsInt("BOOKING_EXPIRY_SWEEP_SECONDS", 60)) * time.Second,
			RetentionDays:       getEnvAsInt("BOOKING_CANCELLED_RETENTION_DAYS", 365),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:   getEnvAsInt("PAYMENT_RATE_LIMIT_ATTEMPTS", 5),
			WindowMinutes: getEnvAsInt("PAYMENT_RATE_LIMIT_WINDOW_MINUTES", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
			EnableAuditLog:   getEnvAsBool("ENABLE_AUDIT_LOGGING", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// The checkout gateway may be left unconfigured in development; bookings
	// are then created without payment sessions. Production refuses to start
	// half-configured.
	if c.Server.Environment == "production" {
		if c.Checkout.BaseURL == "" {
			return fmt.Errorf("CHECKOUT_BASE_URL is required in production")
		}

		if c.Checkout.APIKey == "" {
			return fmt.Errorf("CHECKOUT_API_KEY is required in production")
		}

		if c.Checkout.WebhookSecret == "" {
			return fmt.Errorf("CHECKOUT_WEBHOOK_SECRET is required in production")
		}
	}

	if c.Booking.PendingTTL <= 0 {
		return fmt.Errorf("BOOKING_PENDING_TTL_MINUTES must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
