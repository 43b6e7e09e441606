package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
}

// ServerConfig defines API and metrics listeners
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type string `mapstructure:"type"` // "bolt" or "redis"
	Path string `mapstructure:"path"`
}

// RedisConfig defines redis backend settings
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
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines usage tracking and policy defaults
type TrackingConfig struct {
	TickInterval          string `mapstructure:"tick_interval"`
	DailyResetTime        string `mapstructure:"daily_reset_time"`
	PendingGraceSeconds   int64  `mapstructure:"pending_grace_seconds"`
	EmergencyExtraSeconds int64  `mapstructure:"emergency_extra_seconds"`
	RetentionDays         int    `mapstructure:"retention_days"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SITEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8710)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/sitewarden/sitewarden.bolt")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.daily_reset_time", "06:00")
	v.SetDefault("tracking.pending_grace_seconds", 30)
	v.SetDefault("tracking.emergency_extra_seconds", 600)
	v.SetDefault("tracking.retention_days", 90)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt backend")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis backend")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	if _, err := time.Parse("15:04", cfg.Tracking.DailyResetTime); err != nil {
		return fmt.Errorf("invalid daily reset time %q: must be HH:MM", cfg.Tracking.DailyResetTime)
	}
	if _, err := time.ParseDuration(cfg.Tracking.TickInterval); err != nil {
		return fmt.Errorf("invalid tick interval %q: %w", cfg.Tracking.TickInterval, err)
	}
	if cfg.Tracking.PendingGraceSeconds < 0 {
		return fmt.Errorf("pending grace must be non-negative: %d", cfg.Tracking.PendingGraceSeconds)
	}
	if cfg.Tracking.EmergencyExtraSeconds <= 0 {
		return fmt.Errorf("emergency extra time must be positive: %d", cfg.Tracking.EmergencyExtraSeconds)
	}

	return nil
}
