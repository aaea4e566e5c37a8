package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the hub server
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Encryption configuration
	Encryption EncryptionConfig `mapstructure:"encryption"`

	// Audit log configuration
	Audit AuditConfig `mapstructure:"audit"`

	// Code generation configuration
	CodeGen CodeGenConfig `mapstructure:"codegen"`

	// Retention sweep configuration
	Retention RetentionConfig `mapstructure:"retention"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`

	// TrustedProxies lists the networks allowed to set X-Forwarded-For
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// DatabaseConfig holds database configuration. An empty URL selects the
// in-memory repositories.
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
}

// EncryptionConfig holds field encryption configuration
type EncryptionConfig struct {
	Key       string `mapstructure:"key"`
	AADDomain string `mapstructure:"aad_domain"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	Capacity      int  `mapstructure:"capacity"`
	RetentionDays int  `mapstructure:"retention_days"`
	Persist       bool `mapstructure:"persist"`
}

// CodeGenConfig holds unique code allocation configuration
type CodeGenConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMS int `mapstructure:"backoff_base_ms"`
}

// RetentionConfig holds the background retention sweep configuration
type RetentionConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	RequestsPerMin int  `mapstructure:"requests_per_min"`
	BurstSize      int  `mapstructure:"burst_size"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	MetricsPath  string  `mapstructure:"metrics_path"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/edgehub")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	// JWT defaults
	v.SetDefault("jwt.issuer", "edgehub")

	// Encryption defaults
	v.SetDefault("encryption.aad_domain", "student-data")

	// Audit defaults
	v.SetDefault("audit.capacity", 10000)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.persist", false)

	// Code generation defaults
	v.SetDefault("codegen.max_attempts", 15)
	v.SetDefault("codegen.backoff_base_ms", 10)

	// Retention sweep defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval_hours", 24)

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_min", 100)
	v.SetDefault("rate_limit.burst_size", 10)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.service_name", "hub-server")
	v.SetDefault("monitoring.sampling_rate", 0.1)

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with well-known environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		config.Server.TrustedProxies = strings.Split(proxies, ",")
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	// An unset key is reported by the security service, it does not fail startup.
	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		config.Encryption.Key = encKey
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Audit.Capacity <= 0 {
		return fmt.Errorf("audit capacity must be positive: %d", config.Audit.Capacity)
	}

	if config.CodeGen.MaxAttempts <= 0 {
		return fmt.Errorf("codegen max attempts must be positive: %d", config.CodeGen.MaxAttempts)
	}

	return nil
}
