package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	AuthIssuer  string `mapstructure:"AUTH_ISSUER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Lifecycle event publishing. Disabled when AMQP_URL is empty.
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	// Complex value object store. In-memory fallback when ENDPOINT is empty.
	ObjectStoreEndpoint  string `mapstructure:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreAccessKey string `mapstructure:"OBJECT_STORE_ACCESS_KEY"`
	ObjectStoreSecretKey string `mapstructure:"OBJECT_STORE_SECRET_KEY"`
	ObjectStoreBucket    string `mapstructure:"OBJECT_STORE_BUCKET"`
	ObjectStoreUseSSL    bool   `mapstructure:"OBJECT_STORE_USE_SSL"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("AMQP_EXCHANGE", "cdr.events")
	v.SetDefault("OBJECT_STORE_BUCKET", "cdr-obs-values")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "AUTH_MODE", "JWT_SECRET", "AUTH_ISSUER",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"LOG_LEVEL", "LOG_PRETTY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"AMQP_URL", "AMQP_EXCHANGE",
		"OBJECT_STORE_ENDPOINT", "OBJECT_STORE_ACCESS_KEY",
		"OBJECT_STORE_SECRET_KEY", "OBJECT_STORE_BUCKET", "OBJECT_STORE_USE_SSL",
		"METRICS_ENABLED",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: dev auth is active — all requests get a full-capability principal.")
		log.Println("WARNING: set ENV=production and JWT_SECRET before deploying.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is set it
// wins; otherwise development runs without auth and everything else expects
// signed JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// EventsEnabled reports whether lifecycle events should be published.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate checks that the configuration is safe to run with. Outside
// development a JWT secret is mandatory, and a partially configured object
// store is rejected rather than silently falling back.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_MODE is \"jwt\" (current ENV=%q); refusing to start without authentication", c.Env)
	}

	if c.ObjectStoreEndpoint != "" {
		if c.ObjectStoreAccessKey == "" || c.ObjectStoreSecretKey == "" {
			return fmt.Errorf("OBJECT_STORE_ACCESS_KEY and OBJECT_STORE_SECRET_KEY are required when OBJECT_STORE_ENDPOINT is set")
		}
		if c.ObjectStoreBucket == "" {
			return fmt.Errorf("OBJECT_STORE_BUCKET is required when OBJECT_STORE_ENDPOINT is set")
		}
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}

	return nil
}
