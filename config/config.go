// Package config loads process-wide defaults for finch pools from
// environment variables (with optional .env support), the same shape the
// teacher's gateway config package uses (Load() + getEnv helpers), scoped
// down from per-provider gateway settings to per-pool connection defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide pool defaults. Callers can always override any
// of these per-pool (finch.PoolConfig) or per-request (finch.RequestOptions).
type Config struct {
	Env      string
	LogLevel string

	// Pool defaults
	PoolSize         int
	PoolMaxIdleTime  time.Duration
	StartPoolMetrics bool

	// Connection defaults
	MaxIdleTime         time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAlive           time.Duration

	// Per-request defaults
	PoolTimeout    time.Duration
	ReceiveTimeout time.Duration
}

// Load reads configuration from FINCH_* environment variables and an
// optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PoolSize:         getEnvInt("FINCH_POOL_SIZE", 10),
		PoolMaxIdleTime:  time.Duration(getEnvInt("FINCH_POOL_MAX_IDLE_TIME_SEC", 0)) * time.Second,
		StartPoolMetrics: getEnvBool("FINCH_START_POOL_METRICS", true),

		MaxIdleTime:         time.Duration(getEnvInt("FINCH_CONN_MAX_IDLE_TIME_SEC", 90)) * time.Second,
		DialTimeout:         time.Duration(getEnvInt("FINCH_DIAL_TIMEOUT_SEC", 10)) * time.Second,
		TLSHandshakeTimeout: time.Duration(getEnvInt("FINCH_TLS_HANDSHAKE_TIMEOUT_SEC", 10)) * time.Second,
		KeepAlive:           time.Duration(getEnvInt("FINCH_KEEP_ALIVE_SEC", 30)) * time.Second,

		PoolTimeout:    time.Duration(getEnvInt("FINCH_POOL_TIMEOUT_MS", 5000)) * time.Millisecond,
		ReceiveTimeout: time.Duration(getEnvInt("FINCH_RECEIVE_TIMEOUT_MS", 15000)) * time.Millisecond,
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
