package config

import (
	"os"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "SHUTDOWN_TIMEOUT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "REDIS_OP_TIMEOUT",
	"JWT_SECRET", "JWT_ISSUER", "API_KEY",
	"CONFIG_DIR", "ROUTES_FILE",
	"DEFAULT_FAILURE_THRESHOLD", "DEFAULT_RESET_TIMEOUT",
	"DEFAULT_RATE_LIMIT", "DEFAULT_RATE_WINDOW",
	"IP_WHITELIST", "IP_BLACKLIST",
	"METRICS_ENABLED", "METRICS_PATH",
	"LOG_LEVEL", "LOG_FORMAT",
	"TRACING_ENABLED", "TRACING_ENDPOINT",
}

func clearEnv() {
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %s, want localhost:6379", cfg.Redis.Addr)
	}
	if cfg.Redis.OpTimeout != 50*time.Millisecond {
		t.Errorf("Redis.OpTimeout = %v, want 50ms", cfg.Redis.OpTimeout)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("Breaker.ResetTimeout = %v, want 30s", cfg.Breaker.ResetTimeout)
	}
	if cfg.Rate.Limit != 100 {
		t.Errorf("Rate.Limit = %d, want 100", cfg.Rate.Limit)
	}
	if cfg.Rate.Window != time.Minute {
		t.Errorf("Rate.Window = %v, want 1m", cfg.Rate.Window)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("PORT", "9000")
	os.Setenv("REDIS_ADDR", "redis:6380")
	os.Setenv("REDIS_DB", "3")
	os.Setenv("JWT_SECRET", "s3cret")
	os.Setenv("API_KEY", "key-123")
	os.Setenv("DEFAULT_FAILURE_THRESHOLD", "3")
	os.Setenv("DEFAULT_RESET_TIMEOUT", "1000")
	os.Setenv("DEFAULT_RATE_LIMIT", "10")
	os.Setenv("DEFAULT_RATE_WINDOW", "30")
	os.Setenv("IP_BLACKLIST", "10.0.0.1, 10.0.0.2")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %s, want redis:6380", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Redis.DB = %d, want 3", cfg.Redis.DB)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %s, want s3cret", cfg.Auth.JWTSecret)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("Breaker.FailureThreshold = %d, want 3", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.ResetTimeout != time.Second {
		t.Errorf("Breaker.ResetTimeout = %v, want 1s", cfg.Breaker.ResetTimeout)
	}
	if cfg.Rate.Limit != 10 {
		t.Errorf("Rate.Limit = %d, want 10", cfg.Rate.Limit)
	}
	if cfg.Rate.Window != 30*time.Second {
		t.Errorf("Rate.Window = %v, want 30s", cfg.Rate.Window)
	}
	if len(cfg.IP.Blacklist) != 2 || cfg.IP.Blacklist[0] != "10.0.0.1" {
		t.Errorf("IP.Blacklist = %v, want [10.0.0.1 10.0.0.2]", cfg.IP.Blacklist)
	}
}

func TestValidate_Invalid(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("PORT", "-1")
	os.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected validation error")
	}
}

func TestLogSafe_MasksSecrets(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("JWT_SECRET", "topsecret")
	os.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	safe := cfg.LogSafe()
	auth := safe["auth"].(map[string]interface{})
	if auth["jwt_secret"] == "topsecret" {
		t.Error("LogSafe leaked JWT secret")
	}
	redis := safe["redis"].(map[string]interface{})
	if redis["password"] == "hunter2" {
		t.Error("LogSafe leaked redis password")
	}
}
