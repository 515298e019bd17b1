package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment       string
	APIPort           string
	WorkerMetricsPort string

	// Database
	StoreDriver string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	// Queue / lease
	AMQPURL  string
	RedisURL string

	// Sweep
	SweepSchedule  string
	SweepBatchSize int
	SweepClaimTTL  time.Duration
	SweepLeaseTTL  time.Duration

	// Messaging
	SMSProvider        string
	SMSRatePerSecond   float64
	SMSRateBurst       int
	TwilioAccountSID   string
	TwilioAuthToken    string
	DefaultRegion      string
	EscalationKeywords []string

	// Observability
	SentryDSN string
	LogLevel  string
	LogFormat string
}

var defaultEscalationKeywords = []string{
	"human", "real person", "representative", "manager", "call me", "speak to someone", "stop texting",
}

// Load reads .env when present and builds the configuration from the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		APIPort:     getEnv("API_PORT", "8080"),

		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "leaddrip"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "leaddrip"),

		AMQPURL:  getEnv("AMQP_URL", ""),
		RedisURL: getEnv("REDIS_URL", ""),

		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 1m"),
		SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 500),
		SweepClaimTTL:  getEnvAsDuration("SWEEP_CLAIM_TTL", 10*time.Minute),
		SweepLeaseTTL:  getEnvAsDuration("SWEEP_LEASE_TTL", 55*time.Second),

		SMSProvider:        getEnv("SMS_PROVIDER", "log"),
		SMSRatePerSecond:   getEnvAsFloat("SMS_RATE_PER_SECOND", 1),
		SMSRateBurst:       getEnvAsInt("SMS_RATE_BURST", 1),
		TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		DefaultRegion:      getEnv("DEFAULT_REGION", "US"),
		EscalationKeywords: getEnvAsList("ESCALATION_KEYWORDS", defaultEscalationKeywords),

		SentryDSN: getEnv("SENTRY_DSN", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// DSN returns DATABASE_URL or assembles one from the DB_* variables.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
