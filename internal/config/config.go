// Package config handles application configuration from environment variables.
//
// Configuration is loaded and validated exactly once at startup; components
// receive it by injection and never read the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment provider
	StripeSecretKey string // If empty, the fake provider is used (dev/demo mode)
	PublicBaseURL   string // Base URL for provider return/cancel redirects

	// Marketplace settings
	ServiceFeeBps     int           // Platform fee in basis points of ticket price
	HoldTTL           time.Duration // Max age of a pending order before reclaim
	ReclaimBatchLimit int           // Max orders processed per reclaimer run
	ApprovalCooldown  time.Duration // Escrow hold after buyer approval
	EventReleaseDelay time.Duration // Default release delay after event start
	SweepInterval     time.Duration // In-process sweep cadence (0 disables timers)

	// Security
	ActorTokenSecret string // HMAC secret for actor identity tokens
	CronSecret       string // Shared secret for cron trigger endpoints
	RateLimitRPS     int

	// Notifications
	NotifyWebhookURL string // Optional HTTP endpoint receiving lifecycle events

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultServiceFeeBps     = 800 // 8%
	DefaultHoldTTL           = 20 * time.Minute
	DefaultReclaimBatchLimit = 500
	DefaultApprovalCooldown  = 24 * time.Hour
	DefaultEventReleaseDelay = 48 * time.Hour
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		ServiceFeeBps:     int(getEnvInt64("SERVICE_FEE_BPS", DefaultServiceFeeBps)),
		HoldTTL:           getEnvDuration("HOLD_TTL", DefaultHoldTTL),
		ReclaimBatchLimit: int(getEnvInt64("RECLAIM_BATCH_LIMIT", DefaultReclaimBatchLimit)),
		ApprovalCooldown:  getEnvDuration("APPROVAL_COOLDOWN", DefaultApprovalCooldown),
		EventReleaseDelay: getEnvDuration("EVENT_RELEASE_DELAY", DefaultEventReleaseDelay),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 0),
		ActorTokenSecret:  os.Getenv("ACTOR_TOKEN_SECRET"),
		CronSecret:        os.Getenv("CRON_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		NotifyWebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
// Called once at startup so misconfiguration fails fast, not per-request.
func (c *Config) Validate() error {
	if c.ServiceFeeBps < 0 || c.ServiceFeeBps >= 10000 {
		return fmt.Errorf("SERVICE_FEE_BPS must be in [0, 10000), got %d", c.ServiceFeeBps)
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive, got %s", c.HoldTTL)
	}
	if c.ReclaimBatchLimit <= 0 {
		return fmt.Errorf("RECLAIM_BATCH_LIMIT must be positive, got %d", c.ReclaimBatchLimit)
	}
	if c.ApprovalCooldown <= 0 {
		return fmt.Errorf("APPROVAL_COOLDOWN must be positive, got %s", c.ApprovalCooldown)
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if c.IsProduction() {
		if c.ActorTokenSecret == "" {
			return fmt.Errorf("ACTOR_TOKEN_SECRET is required in production")
		}
		if c.CronSecret == "" {
			return fmt.Errorf("CRON_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
