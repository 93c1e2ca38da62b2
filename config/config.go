// Package config loads server configuration from an optional .env file, an
// optional config.toml and LEASEBILL_ environment variables.
//
// Priority (highest to lowest):
//  1. Environment variables with LEASEBILL_ prefix (e.g. LEASEBILL_DATABASE_PATH)
//  2. .env in the working directory (loaded into the environment, never overriding it)
//  3. config.toml
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/logger"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Billing     BillingConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
}

type AppConfig struct {
	Name string
	Env  string // development, production
	Port int
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

type BillingConfig struct {
	UtilityPriceAsOf string // reading_date, period_end
	RoundingPlaces   int32  // decimal places of the currency's minor unit
}

// AuthConfig enables bearer-token authorization when Secret is set.
type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type IdempotencyConfig struct {
	Backend string // memory, redis
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration. path names a config file; when empty,
// config.toml is searched for in the working directory.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEASEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetInt("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Billing: BillingConfig{
			UtilityPriceAsOf: v.GetString("billing.utility_price_as_of"),
			RoundingPlaces:   v.GetInt32("billing.rounding_places"),
		},
		Auth: AuthConfig{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Idempotency: IdempotencyConfig{
			Backend: v.GetString("idempotency.backend"),
			TTL:     v.GetDuration("idempotency.ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lease-billing")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("database.path", "billing.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_body_size", 1<<20)
	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("billing.utility_price_as_of", string(billing.AsOfReadingDate))
	v.SetDefault("billing.rounding_places", 0)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "lease-billing")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port must be between 1 and 65535, got %d", c.App.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := billing.ParseAsOfPolicy(c.Billing.UtilityPriceAsOf); err != nil {
		return fmt.Errorf("billing.utility_price_as_of: %w", err)
	}
	if c.Billing.RoundingPlaces < 0 || c.Billing.RoundingPlaces > 6 {
		return fmt.Errorf("billing.rounding_places must be between 0 and 6, got %d", c.Billing.RoundingPlaces)
	}
	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("idempotency.backend must be memory or redis, got %q", c.Idempotency.Backend)
	}
	if c.IsProduction() && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + strconv.Itoa(c.App.Port) }

// BuilderConfig returns the invoice builder settings.
func (c *Config) BuilderConfig() billing.BuilderConfig {
	policy, _ := billing.ParseAsOfPolicy(c.Billing.UtilityPriceAsOf)
	return billing.BuilderConfig{
		UtilityPriceAsOf: policy,
		Rounding:         billing.Rounding{Places: c.Billing.RoundingPlaces},
	}
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Output: c.Log.Output,
	}
}
