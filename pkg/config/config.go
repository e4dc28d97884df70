// Package config loads runtime configuration from IOA_* environment
// variables and from governance profile YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel string

	// Policy engine.
	PolicyMode  string
	GrantSecret string
	Project     string
	Region      string
	ProfilesDir string

	// Audit chain.
	ChainBackend string
	ChainDir     string
	ChainBucket  string
	ChainID      string
	WriterID     string

	// External services.
	RedisAddr    string
	DatabaseURL  string
	MemoryDB     string
	OTLPEndpoint string

	// Roundtable defaults.
	DefaultMode    string
	DefaultQuorum  float64
	DefaultTimeout time.Duration
	MaxWorkers     int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel: envStr("IOA_LOG_LEVEL", "INFO"),

		PolicyMode:  envStr("IOA_POLICY_MODE", "enforce"),
		GrantSecret: os.Getenv("IOA_GRANT_SECRET"),
		Project:     envStr("IOA_PROJECT", "default"),
		Region:      envStr("IOA_REGION", "eu-west"),
		ProfilesDir: envStr("IOA_PROFILES_DIR", "profiles"),

		ChainBackend: envStr("IOA_CHAIN_BACKEND", "file"),
		ChainDir:     envStr("IOA_CHAIN_DIR", "data"),
		ChainBucket:  os.Getenv("IOA_CHAIN_BUCKET"),
		ChainID:      envStr("IOA_CHAIN_ID", "governance"),
		WriterID:     envStr("IOA_WRITER_ID", hostnameOr("ioa-writer")),

		RedisAddr:    os.Getenv("IOA_REDIS_ADDR"),
		DatabaseURL:  os.Getenv("IOA_DATABASE_URL"),
		MemoryDB:     envStr("IOA_MEMORY_DB", "data/roundtables.db"),
		OTLPEndpoint: os.Getenv("IOA_OTLP_ENDPOINT"),

		DefaultMode:    envStr("IOA_DEFAULT_MODE", "majority"),
		DefaultQuorum:  envFloat("IOA_DEFAULT_QUORUM", 0.5),
		DefaultTimeout: envDuration("IOA_DEFAULT_TIMEOUT", 30*time.Second),
		MaxWorkers:     envInt("IOA_MAX_WORKERS", 16),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
