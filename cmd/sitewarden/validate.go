package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/sitewarden/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the SiteWarden configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	setDefaultsForDump(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// setDefaultsForDump sets default configuration values (copied from config package)
func setDefaultsForDump(v *viper.Viper) {
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

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	allKeys := v.AllKeys()
	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range allKeys {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.api_port":     true,
		"server.metrics_port": true,
		"server.bind_address": true,

		// Storage
		"storage.type": true,
		"storage.path": true,

		// Redis
		"redis.host":           true,
		"redis.port":           true,
		"redis.password":       true,
		"redis.db":             true,
		"redis.pool_size":      true,
		"redis.min_idle_conns": true,
		"redis.dial_timeout":   true,
		"redis.read_timeout":   true,
		"redis.write_timeout":  true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Tracking
		"tracking.tick_interval":           true,
		"tracking.daily_reset_time":        true,
		"tracking.pending_grace_seconds":   true,
		"tracking.emergency_extra_seconds": true,
		"tracking.retention_days":          true,
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  api_port", cfg.Server.APIPort, defaultCfg.Server.APIPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)

	// Redis
	_, _ = cyan.Println("\n[redis]")
	dumpField("  host", cfg.Redis.Host, defaultCfg.Redis.Host, yellow, green)
	dumpField("  port", cfg.Redis.Port, defaultCfg.Redis.Port, yellow, green)
	dumpField("  password", redactPassword(cfg.Redis.Password), redactPassword(defaultCfg.Redis.Password), yellow, green)
	dumpField("  db", cfg.Redis.DB, defaultCfg.Redis.DB, yellow, green)
	dumpField("  pool_size", cfg.Redis.PoolSize, defaultCfg.Redis.PoolSize, yellow, green)
	dumpField("  min_idle_conns", cfg.Redis.MinIdleConns, defaultCfg.Redis.MinIdleConns, yellow, green)
	dumpField("  dial_timeout", cfg.Redis.DialTimeout, defaultCfg.Redis.DialTimeout, yellow, green)
	dumpField("  read_timeout", cfg.Redis.ReadTimeout, defaultCfg.Redis.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Redis.WriteTimeout, defaultCfg.Redis.WriteTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Tracking
	_, _ = cyan.Println("\n[tracking]")
	dumpField("  tick_interval", cfg.Tracking.TickInterval, defaultCfg.Tracking.TickInterval, yellow, green)
	dumpField("  daily_reset_time", cfg.Tracking.DailyResetTime, defaultCfg.Tracking.DailyResetTime, yellow, green)
	dumpField("  pending_grace_seconds", cfg.Tracking.PendingGraceSeconds, defaultCfg.Tracking.PendingGraceSeconds, yellow, green)
	dumpField("  emergency_extra_seconds", cfg.Tracking.EmergencyExtraSeconds, defaultCfg.Tracking.EmergencyExtraSeconds, yellow, green)
	dumpField("  retention_days", cfg.Tracking.RetentionDays, defaultCfg.Tracking.RetentionDays, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
