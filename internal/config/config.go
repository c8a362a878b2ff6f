package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the delivery server.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // Postgres; SQLite fallback when empty
	SQLitePath  string
	RedisURL    string
	KeyDirFile  string // JSON file served as the key directory

	// Expiry sweeper
	SweepInterval  time.Duration
	SweepBatchSize int

	// Send-path rate limiting (per user per minute); 0 disables
	SendRateLimit int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnv("SQLITE_PATH", "./data/qryptchat.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KeyDirFile:     os.Getenv("KEY_DIRECTORY_FILE"),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", 500),
		SendRateLimit:  getEnvInt("SEND_RATE_LIMIT", 30),
	}

	// In production, require the real backends
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.KeyDirFile == "" {
			panic("KEY_DIRECTORY_FILE is required in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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
