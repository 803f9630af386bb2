package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer               string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL              string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey           string        `mapstructure:"AUTH_SIGNING_KEY"`
	DevUserEmail             string        `mapstructure:"DEV_USER_EMAIL"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	MessagesBackend          string        `mapstructure:"MESSAGES_BACKEND"`
	MessagesURL              string        `mapstructure:"MESSAGES_URL"`
	MessagesTimeout          time.Duration `mapstructure:"MESSAGES_TIMEOUT"`
	TreatmentRefreshInterval time.Duration `mapstructure:"TREATMENT_REFRESH_INTERVAL"`
	CompletionPolicy         string        `mapstructure:"COMPLETION_POLICY"`
	ClinicTimezone           string        `mapstructure:"CLINIC_TIMEZONE"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"AUTH_ISSUER",
	"AUTH_JWKS_URL",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"DEV_USER_EMAIL",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"MESSAGES_BACKEND",
	"MESSAGES_URL",
	"MESSAGES_TIMEOUT",
	"TREATMENT_REFRESH_INTERVAL",
	"COMPLETION_POLICY",
	"CLINIC_TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEV_USER_EMAIL", "dev.physician@medpod.local")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("MESSAGES_BACKEND", "store")
	v.SetDefault("MESSAGES_URL", "http://localhost:3000")
	v.SetDefault("MESSAGES_TIMEOUT", "10s")
	v.SetDefault("TREATMENT_REFRESH_INTERVAL", "60s")
	v.SetDefault("COMPLETION_POLICY", "clock")
	v.SetDefault("CLINIC_TIMEZONE", "Local")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
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
		log.Println("WARNING: running in DEVELOPMENT mode, unauthenticated requests act as", cfg.DevUserEmail)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Treatment schedules are wall-clock
// times in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" || c.ClinicTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("load CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so that JWTs are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	switch c.MessagesBackend {
	case "store":
	case "http":
		if c.MessagesURL == "" {
			return fmt.Errorf("MESSAGES_URL is required when MESSAGES_BACKEND is \"http\"")
		}
	default:
		return fmt.Errorf("MESSAGES_BACKEND must be \"store\" or \"http\", got %q", c.MessagesBackend)
	}

	if c.CompletionPolicy != "clock" && c.CompletionPolicy != "lexical" {
		return fmt.Errorf("COMPLETION_POLICY must be \"clock\" or \"lexical\", got %q", c.CompletionPolicy)
	}

	if c.TreatmentRefreshInterval < time.Second {
		return fmt.Errorf("TREATMENT_REFRESH_INTERVAL must be at least 1s, got %s", c.TreatmentRefreshInterval)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
