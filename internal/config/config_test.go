/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MEMEQUEUE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("MEMEQUEUE_JWT_SIGNING_KEY", "unit-test-secret-key-0123456789ab")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("http port = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Errorf("db backend = %q, want postgres", cfg.DBBackend)
	}
	if cfg.EventBusBackend != EventBusMemory {
		t.Errorf("event bus = %q, want memory", cfg.EventBusBackend)
	}
	if cfg.WatchdogInterval != 5*time.Second || cfg.WatchdogGrace != 15*time.Second {
		t.Errorf("watchdog = %v/%v, want 5s/15s", cfg.WatchdogInterval, cfg.WatchdogGrace)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MEMEQUEUE_DB_BACKEND", "sqlite")
	t.Setenv("MEMEQUEUE_EVENT_BUS", "redis")
	t.Setenv("MEMEQUEUE_HTTP_PORT", "9090")
	t.Setenv("MEMEQUEUE_TRACING_ENABLED", "true")
	t.Setenv("MEMEQUEUE_WATCHDOG_GRACE_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DBBackend != DatabaseSQLite {
		t.Errorf("db backend = %q, want sqlite", cfg.DBBackend)
	}
	if cfg.EventBusBackend != EventBusRedis {
		t.Errorf("event bus = %q, want redis", cfg.EventBusBackend)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("http port = %d, want 9090", cfg.HTTPPort)
	}
	if !cfg.TracingEnabled {
		t.Error("tracing should be enabled")
	}
	if cfg.WatchdogGrace != 30*time.Second {
		t.Errorf("watchdog grace = %v, want 30s", cfg.WatchdogGrace)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	t.Setenv("MEMEQUEUE_DB_DSN", "")
	t.Setenv("MEMEQUEUE_JWT_SIGNING_KEY", "secret")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted missing DSN")
	}

	t.Setenv("MEMEQUEUE_DB_DSN", "file::memory:")
	t.Setenv("MEMEQUEUE_JWT_SIGNING_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted missing JWT key")
	}
}

func TestLoadRejectsBadBackends(t *testing.T) {
	setRequired(t)

	t.Setenv("MEMEQUEUE_DB_BACKEND", "oracle")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted unknown database backend")
	}
	t.Setenv("MEMEQUEUE_DB_BACKEND", "postgres")

	t.Setenv("MEMEQUEUE_EVENT_BUS", "kafka")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted unknown event bus backend")
	}
}

func TestProductionRequiresStrongKey(t *testing.T) {
	t.Setenv("MEMEQUEUE_DB_DSN", "host=db")
	t.Setenv("MEMEQUEUE_ENV", "production")
	t.Setenv("MEMEQUEUE_JWT_SIGNING_KEY", "short")

	if _, err := Load(); err == nil {
		t.Error("Load() accepted short signing key in production")
	}
}
