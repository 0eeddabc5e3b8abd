package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Log      LogConfig
	Audit    AuditConfig
	Pricing  PricingConfig
	Monitor  MonitorConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Env string // development, production
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	CORSAllowOrigins []string
}

// DatabaseConfig points at the sqlite file. ":memory:" keeps everything in
// process; "memory" selects the map-backed store instead of sqlite.
type DatabaseConfig struct {
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// AuditConfig sizes the async audit queue.
type AuditConfig struct {
	BufferSize int
}

// PricingConfig carries the exchange factor applied when a collection
// explicitly opts into the manual default.
type PricingConfig struct {
	FallbackFactor int
}

// MonitorConfig schedules the overdue report. Zero disables it.
type MonitorConfig struct {
	Interval time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("database.path", "ledger.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("pricing.fallback_factor", 6)
	v.SetDefault("monitor.interval", "1h")
}

// Load reads configuration. Priority (highest to lowest):
//  1. Environment variables with LEDGER_ prefix (e.g. LEDGER_DATABASE_PATH)
//  2. A .env file in the working directory, loaded into the environment
//  3. config.yaml from "." or "./config"
//  4. Built-in defaults
func Load() (*Config, error) {
	// godotenv never overrides variables already set
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return FromViper(v)
}

// FromViper builds and validates a Config from an already populated viper
// instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env: v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			CORSAllowOrigins: splitList(v.GetStringSlice("http.cors_allow_origins")),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Audit: AuditConfig{
			BufferSize: v.GetInt("audit.buffer_size"),
		},
		Pricing: PricingConfig{
			FallbackFactor: v.GetInt("pricing.fallback_factor"),
		},
		Monitor: MonitorConfig{
			Interval: v.GetDuration("monitor.interval"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("http.port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("audit.buffer_size must not be negative, got %d", c.Audit.BufferSize)
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must not be negative, got %s", c.Monitor.Interval)
	}
	if c.Pricing.FallbackFactor <= 0 {
		return fmt.Errorf("pricing.fallback_factor must be positive, got %d", c.Pricing.FallbackFactor)
	}
	return nil
}

// IsProduction reports whether app.env is production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return ":" + c.HTTP.Port
}

// splitList accepts both yaml lists and a comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
