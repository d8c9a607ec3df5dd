package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Focus     FocusConfig     `mapstructure:"focus"`
	Retention RetentionConfig `mapstructure:"retention"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "sqlite" or "redis"
	Path  string      `mapstructure:"path"` // sqlite database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection used by the redis storage backend
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the HTTP API settings
type APIConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimit       int      `mapstructure:"rate_limit"`
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
	ReadTimeout     string   `mapstructure:"read_timeout"`
	WriteTimeout    string   `mapstructure:"write_timeout"`
}

// LimitsConfig bounds the free-text fields accepted from clients (in runes)
type LimitsConfig struct {
	MaxTitleLength  int `mapstructure:"max_title_length"`
	MaxGoalLength   int `mapstructure:"max_goal_length"`
	MaxReasonLength int `mapstructure:"max_reason_length"`
}

// FocusConfig defines metrics engine settings
type FocusConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// RetentionConfig defines how long sessions are kept
type RetentionConfig struct {
	MaxAgeDays int    `mapstructure:"max_age_days"` // 0 disables pruning
	RunTime    string `mapstructure:"run_time"`     // HH:MM, local time
}

// TracingConfig defines OpenTelemetry export settings
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// A .env file next to the binary is optional
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DEEPWORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// isNotExist reports whether a viper read error means the file is absent.
// SetConfigFile bypasses the search path, so a missing file surfaces as an
// fs error rather than viper.ConfigFileNotFoundError.
func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8000)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "/var/lib/deepwork/deepwork.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "deepwork")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// API defaults
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit", 100)
	v.SetDefault("api.rate_limit_window", "1m")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")

	// Free-text limits
	v.SetDefault("limits.max_title_length", 200)
	v.SetDefault("limits.max_goal_length", 2000)
	v.SetDefault("limits.max_reason_length", 500)

	// Focus metrics defaults
	v.SetDefault("focus.cache_size", 1024)

	// Retention defaults
	v.SetDefault("retention.max_age_days", 0)
	v.SetDefault("retention.run_time", "03:00")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "deepwork")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.MetricsPort == cfg.Server.APIPort {
		return fmt.Errorf("metrics port must differ from API port (%d)", cfg.Server.APIPort)
	}

	switch cfg.Storage.Type {
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for sqlite storage")
		}
		if cfg.Storage.Path != ":memory:" {
			// Ensure storage directory exists
			storageDir := filepath.Dir(cfg.Storage.Path)
			if err := os.MkdirAll(storageDir, 0755); err != nil {
				return fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
		for name, value := range map[string]string{
			"dial_timeout":  cfg.Storage.Redis.DialTimeout,
			"read_timeout":  cfg.Storage.Redis.ReadTimeout,
			"write_timeout": cfg.Storage.Redis.WriteTimeout,
		} {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid storage.redis.%s %q: %w", name, value, err)
			}
		}
	default:
		return fmt.Errorf("unsupported storage type: %q (must be sqlite or redis)", cfg.Storage.Type)
	}

	if cfg.API.RateLimit < 0 {
		return fmt.Errorf("api rate limit must not be negative: %d", cfg.API.RateLimit)
	}
	for name, value := range map[string]string{
		"rate_limit_window": cfg.API.RateLimitWindow,
		"read_timeout":      cfg.API.ReadTimeout,
		"write_timeout":     cfg.API.WriteTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid api.%s %q: %w", name, value, err)
		}
	}

	if cfg.Limits.MaxTitleLength <= 0 || cfg.Limits.MaxGoalLength <= 0 || cfg.Limits.MaxReasonLength <= 0 {
		return fmt.Errorf("text limits must be positive")
	}

	if cfg.Focus.CacheSize <= 0 {
		return fmt.Errorf("focus cache size must be positive: %d", cfg.Focus.CacheSize)
	}

	if cfg.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention max_age_days must not be negative: %d", cfg.Retention.MaxAgeDays)
	}
	if _, err := time.Parse("15:04", cfg.Retention.RunTime); err != nil {
		return fmt.Errorf("invalid retention run_time %q (expected HH:MM): %w", cfg.Retention.RunTime, err)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}
