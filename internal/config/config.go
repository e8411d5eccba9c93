// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration.
type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Routes  RoutesConfig
	Breaker BreakerConfig
	Rate    RateConfig
	IP      IPConfig
	Metrics MetricsConfig
	Logging LoggingConfig
	Tracing TracingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// RedisConfig holds shared-store configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	OpTimeout    time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds authentication policy configuration.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	APIKey    string
}

// RoutesConfig holds route persistence configuration.
type RoutesConfig struct {
	ConfigDir string
	File      string
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// RateConfig holds rate limiting defaults.
type RateConfig struct {
	Limit  int
	Window time.Duration
}

// IPConfig holds IP filtering configuration.
type IPConfig struct {
	Whitelist []string
	Blacklist []string
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8080),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			OpTimeout:    getEnvDuration("REDIS_OP_TIMEOUT", 50*time.Millisecond),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
			APIKey:    getEnv("API_KEY", ""),
		},
		Routes: RoutesConfig{
			ConfigDir: getEnv("CONFIG_DIR", "./config"),
			File:      getEnv("ROUTES_FILE", "routes.json"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("DEFAULT_FAILURE_THRESHOLD", 5),
			ResetTimeout:     time.Duration(getEnvInt("DEFAULT_RESET_TIMEOUT", 30000)) * time.Millisecond,
		},
		Rate: RateConfig{
			Limit:  getEnvInt("DEFAULT_RATE_LIMIT", 100),
			Window: time.Duration(getEnvInt("DEFAULT_RATE_WINDOW", 60)) * time.Second,
		},
		IP: IPConfig{
			Whitelist: getEnvStringSlice("IP_WHITELIST", nil),
			Blacklist: getEnvStringSlice("IP_BLACKLIST", nil),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "PORT must be between 1 and 65535")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	}

	if c.Redis.PoolSize <= 0 {
		errs = append(errs, "REDIS_POOL_SIZE must be positive")
	}

	if c.Redis.OpTimeout <= 0 {
		errs = append(errs, "REDIS_OP_TIMEOUT must be positive")
	}

	if c.Routes.ConfigDir == "" {
		errs = append(errs, "CONFIG_DIR is required")
	}

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "DEFAULT_FAILURE_THRESHOLD must be positive")
	}

	if c.Breaker.ResetTimeout <= 0 {
		errs = append(errs, "DEFAULT_RESET_TIMEOUT must be positive")
	}

	if c.Rate.Limit <= 0 {
		errs = append(errs, "DEFAULT_RATE_LIMIT must be positive")
	}

	if c.Rate.Window <= 0 {
		errs = append(errs, "DEFAULT_RATE_WINDOW must be positive")
	}

	level := strings.ToLower(c.Logging.Level)
	switch level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, "TRACING_ENDPOINT is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed: " + strings.Join(errs, "; "))
	}

	return nil
}

// LogSafe returns a copy of config with sensitive values masked.
func (c *Config) LogSafe() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"port":             c.Server.Port,
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
		},
		"redis": map[string]interface{}{
			"addr":       c.Redis.Addr,
			"db":         c.Redis.DB,
			"pool_size":  c.Redis.PoolSize,
			"op_timeout": c.Redis.OpTimeout.String(),
			"password":   maskSecret(c.Redis.Password),
		},
		"auth": map[string]interface{}{
			"jwt_secret": maskSecret(c.Auth.JWTSecret),
			"jwt_issuer": c.Auth.JWTIssuer,
			"api_key":    maskSecret(c.Auth.APIKey),
		},
		"routes": map[string]interface{}{
			"config_dir": c.Routes.ConfigDir,
			"file":       c.Routes.File,
		},
		"breaker": map[string]interface{}{
			"failure_threshold": c.Breaker.FailureThreshold,
			"reset_timeout":     c.Breaker.ResetTimeout.String(),
		},
		"rate": map[string]interface{}{
			"limit":  c.Rate.Limit,
			"window": c.Rate.Window.String(),
		},
		"ip": map[string]interface{}{
			"whitelist": c.IP.Whitelist,
			"blacklist": c.IP.Blacklist,
		},
		"metrics": map[string]interface{}{
			"enabled": c.Metrics.Enabled,
			"path":    c.Metrics.Path,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
		"tracing": map[string]interface{}{
			"enabled":  c.Tracing.Enabled,
			"endpoint": c.Tracing.Endpoint,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	return fmt.Sprintf("<set, %d chars>", len(s))
}
