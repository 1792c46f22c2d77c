package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Authentication
	JWTSecret string

	// Moderation classifier
	ModerationURL          string
	ModerationTimeout      time.Duration
	ModerationImageTimeout time.Duration

	// Guardian notifier
	GuardianQueueSize int
	AlertFromAddress  string

	// Shared secret guarding the internal fan-out API.
	InternalAPIToken string

	// Per-connection inbound event rate (events/second) and burst.
	EventRate  float64
	EventBurst int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SQLitePath:             getEnv("SQLITE_PATH", "./data/safenest.db"),
		RedisURL:               os.Getenv("REDIS_URL"),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret-change-me"),
		ModerationURL:          getEnv("MODERATION_URL", "http://localhost:5000"),
		ModerationTimeout:      getDuration("MODERATION_TIMEOUT", 3*time.Second),
		ModerationImageTimeout: getDuration("MODERATION_IMAGE_TIMEOUT", 10*time.Second),
		GuardianQueueSize:      getInt("GUARDIAN_QUEUE_SIZE", 256),
		AlertFromAddress:       getEnv("ALERT_FROM_ADDRESS", "alerts@safenest.local"),
		InternalAPIToken:       os.Getenv("INTERNAL_API_TOKEN"),
		EventRate:              getFloat("EVENT_RATE", 10),
		EventBurst:             getInt("EVENT_BURST", 20),
	}

	// In production, require the pieces we cannot safely default.
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if os.Getenv("JWT_SECRET") == "" {
			panic("JWT_SECRET is required in production")
		}
		if cfg.InternalAPIToken == "" {
			panic("INTERNAL_API_TOKEN is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
