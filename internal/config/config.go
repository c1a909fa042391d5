// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/waveform-market/waveform/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	GatewayWebhookSecret string // HMAC secret for verifying gateway webhook signatures
	StripeAPIKey         string // Stripe secret key (optional, manual gateway if not set)

	// Settlement policy
	StreamRate    string // Revenue per valid stream, e.g. "0.003"
	PayoutMinimum string // Minimum payout request amount, e.g. "10"

	// Notifications
	NotifySigningSecret string // HMAC secret for signing outgoing notification webhooks

	// Security
	AdminSecret  string // Admin API secret
	AuthTokens   string // Static bearer token table, "token:userID:role1|role2,..."
	RateLimitRPM int    // HTTP requests per minute per client

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for tracing (optional)
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultStreamRate    = "0.003"
	DefaultPayoutMinimum = "10"
	DefaultRateLimitRPM  = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		StreamRate:           getEnv("STREAM_RATE", DefaultStreamRate),
		PayoutMinimum:        getEnv("PAYOUT_MINIMUM", DefaultPayoutMinimum),
		NotifySigningSecret:  os.Getenv("NOTIFY_SIGNING_SECRET"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		AuthTokens:           os.Getenv("AUTH_TOKENS"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and well-formed
func (c *Config) Validate() error {
	if _, err := money.ParsePositive(c.StreamRate); err != nil {
		return fmt.Errorf("STREAM_RATE must be a positive amount: %w", err)
	}

	if _, err := money.ParsePositive(c.PayoutMinimum); err != nil {
		return fmt.Errorf("PAYOUT_MINIMUM must be a positive amount: %w", err)
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	// Production refuses to run with open admin or unverifiable webhooks
	if c.IsProduction() {
		if c.GatewayWebhookSecret == "" {
			return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

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
