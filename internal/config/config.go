/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string
	MetricsBind   string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance event fan-out
	EventBusBackend EventBusBackend
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NATSURL         string
	InstanceID      string

	// Playback watchdog
	WatchdogInterval time.Duration
	WatchdogGrace    time.Duration
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("MEMEQUEUE_ENV", "development"),
		HTTPBind:    getEnv("MEMEQUEUE_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("MEMEQUEUE_HTTP_PORT", 8080),
		BaseURL:     getEnv("MEMEQUEUE_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("MEMEQUEUE_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("MEMEQUEUE_DB_DSN", ""),

		JWTSigningKey: getEnv("MEMEQUEUE_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("MEMEQUEUE_METRICS_BIND", "127.0.0.1:9000"),

		TracingEnabled:    getEnvBool("MEMEQUEUE_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("MEMEQUEUE_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("MEMEQUEUE_TRACING_SAMPLE_RATE", 1.0),

		EventBusBackend: EventBusBackend(getEnv("MEMEQUEUE_EVENT_BUS", string(EventBusMemory))),
		RedisAddr:       getEnv("MEMEQUEUE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("MEMEQUEUE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("MEMEQUEUE_REDIS_DB", 0),
		NATSURL:         getEnv("MEMEQUEUE_NATS_URL", "nats://localhost:4222"),
		InstanceID:      getEnv("MEMEQUEUE_INSTANCE_ID", ""),

		WatchdogInterval: time.Duration(getEnvInt("MEMEQUEUE_WATCHDOG_INTERVAL_SECONDS", 5)) * time.Second,
		WatchdogGrace:    time.Duration(getEnvInt("MEMEQUEUE_WATCHDOG_GRACE_SECONDS", 15)) * time.Second,
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.EventBusBackend != EventBusMemory && cfg.EventBusBackend != EventBusRedis && cfg.EventBusBackend != EventBusNATS {
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBusBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("MEMEQUEUE_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("MEMEQUEUE_JWT_SIGNING_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("MEMEQUEUE_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
