// Package config loads DevOrchestra configuration from the environment.
// A .env file is honored when present; every value has a working default so
// the service boots with zero configuration (sqlite store, no Redis, demo
// fallbacks instead of live completions).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration.
type Config struct {
	Port        string
	Environment string

	// Persistence
	DatabaseURL string // postgres://... or a sqlite file path
	RedisURL    string // empty disables the status bus

	// Completion service
	GeminiAPIKey      string
	GeminiModel       string
	ThrottleInterval  time.Duration // minimum gap between completion calls
	MaxAttempts       int           // total attempts per completion call
	DefaultRetryDelay time.Duration // used when the quota error names no delay

	// Pipeline
	InterPhaseDelay time.Duration // pacing between sequential generation calls
	ManualBaseline  time.Duration // manual-effort baseline for the speedup metric
	ExecuteTests    bool          // run generated unit tests in a subprocess
	TestTimeout     time.Duration // wall clock for one test run
}

// Load reads configuration from the environment.
func Load() *Config {
	// Missing .env is fine; system environment still applies.
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: getEnv("DATABASE_URL", "devorchestra.db"),
		RedisURL:    getEnv("REDIS_URL", ""),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		ThrottleInterval:  getDuration("THROTTLE_INTERVAL", 4*time.Second),
		MaxAttempts:       getInt("COMPLETION_MAX_ATTEMPTS", 3),
		DefaultRetryDelay: getDuration("DEFAULT_RETRY_DELAY", 30*time.Second),

		InterPhaseDelay: getDuration("INTER_PHASE_DELAY", time.Second),
		ManualBaseline:  getDuration("MANUAL_BASELINE", 4*time.Hour),
		ExecuteTests:    getBool("EXECUTE_TESTS", true),
		TestTimeout:     getDuration("TEST_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
