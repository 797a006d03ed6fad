package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Payment provider
	ProviderBaseURL       string
	ProviderAccessToken   string
	ProviderTimeout       time.Duration
	ProviderWebhookSecret string
	ProviderWebhookMaxAge time.Duration

	// Pricing
	ServiceFeeRate  decimal.Decimal
	ProviderFeeRate decimal.Decimal
	FeeTaxRate      decimal.Decimal
	WithholdingRate decimal.Decimal
	PayoutDelay     time.Duration

	// Reconciliation locking
	LockTTL  time.Duration
	LockWait time.Duration

	// Pending sweeper
	SweepEnabled  bool
	SweepInterval time.Duration
	SweepMinAge   time.Duration
	SweepBatch    int

	// Poll rate limit, per buyer
	PollRateLimit  int
	PollRateWindow time.Duration

	// Notifications
	MailFromName    string
	MailFromAddress string
	NotifyTimeout   time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// LoadConfig reads the environment, after loading .env when one exists.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: could not load .env", "error", err)
	}

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "ticket-reconciler"),

		// Provider
		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.mercadopago.com"),
		ProviderAccessToken:   getEnv("PROVIDER_ACCESS_TOKEN", ""),
		ProviderTimeout:       getEnvAsDuration("PROVIDER_TIMEOUT", "10s"),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),
		ProviderWebhookMaxAge: getEnvAsDuration("PROVIDER_WEBHOOK_MAX_AGE", "5m"),

		// Pricing
		ServiceFeeRate:  getEnvAsDecimal("SERVICE_FEE_RATE", "0.10"),
		ProviderFeeRate: getEnvAsDecimal("PROVIDER_FEE_RATE", "0.0329"),
		FeeTaxRate:      getEnvAsDecimal("FEE_TAX_RATE", "0.19"),
		WithholdingRate: getEnvAsDecimal("WITHHOLDING_RATE", "0.015"),
		PayoutDelay:     getEnvAsDuration("PAYOUT_DELAY", "240h"),

		// Locking
		LockTTL:  getEnvAsDuration("RECONCILE_LOCK_TTL", "30s"),
		LockWait: getEnvAsDuration("RECONCILE_LOCK_WAIT", "10s"),

		// Sweeper
		SweepEnabled:  getEnvAsBool("SWEEP_ENABLED", true),
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "1m"),
		SweepMinAge:   getEnvAsDuration("SWEEP_MIN_AGE", "10m"),
		SweepBatch:    getEnvAsInt("SWEEP_BATCH", 50),

		// Rate limit
		PollRateLimit:  getEnvAsInt("POLL_RATE_LIMIT", 10),
		PollRateWindow: getEnvAsDuration("POLL_RATE_WINDOW", "1m"),

		// Notifications
		MailFromName:    getEnv("MAIL_FROM_NAME", "Tickets"),
		MailFromAddress: getEnv("MAIL_FROM_ADDRESS", "noreply@example.com"),
		NotifyTimeout:   getEnvAsDuration("NOTIFY_TIMEOUT", "30s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	if value, err := decimal.NewFromString(getEnv(key, defaultValue)); err == nil {
		return value
	}
	return decimal.RequireFromString(defaultValue)
}
