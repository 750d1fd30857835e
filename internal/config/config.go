package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`

	PartnerAPIBaseURL   string `mapstructure:"PARTNER_API_BASE_URL"`
	PartnerClientID     string `mapstructure:"PARTNER_CLIENT_ID"`
	PartnerClientSecret string `mapstructure:"PARTNER_CLIENT_SECRET"`

	WebhookSecret               string `mapstructure:"WEBHOOK_SECRET"`
	AllowUnauthenticatedWebhook bool   `mapstructure:"ALLOW_UNAUTHENTICATED_WEBHOOK"`

	IngestBatchSize      int `mapstructure:"INGEST_BATCH_SIZE"`
	IngestTimeoutSeconds int `mapstructure:"INGEST_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PARTNER_API_BASE_URL", "https://api.partner.example.com/v1")
	v.SetDefault("INGEST_BATCH_SIZE", 50)
	v.SetDefault("INGEST_TIMEOUT_SECONDS", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("PARTNER_API_BASE_URL")
	v.BindEnv("PARTNER_CLIENT_ID")
	v.BindEnv("PARTNER_CLIENT_SECRET")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("ALLOW_UNAUTHENTICATED_WEBHOOK")
	v.BindEnv("INGEST_BATCH_SIZE")
	v.BindEnv("INGEST_TIMEOUT_SECONDS")

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

	if !cfg.PartnerConfigured() {
		log.Println("WARNING: PARTNER_CLIENT_ID / PARTNER_CLIENT_SECRET not set.")
		log.Println("WARNING: External health-record sync is disabled for this process.")
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

// PartnerConfigured reports whether both partner API credentials are present.
// A missing credential disables the sync feature but never prevents startup.
func (c *Config) PartnerConfigured() bool {
	return c.PartnerClientID != "" && c.PartnerClientSecret != ""
}

// Validate checks that the configuration is safe to run. The webhook endpoint
// only accepts unauthenticated deliveries when ALLOW_UNAUTHENTICATED_WEBHOOK
// is set explicitly; in production that combination is refused outright.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when ENV=%q. "+
			"Refusing to start without authentication configuration", c.Env)
	}

	if c.WebhookSecret == "" {
		if !c.AllowUnauthenticatedWebhook {
			return fmt.Errorf("WEBHOOK_SECRET is not set. " +
				"Set it, or set ALLOW_UNAUTHENTICATED_WEBHOOK=true to accept " +
				"unauthenticated partner callbacks (local development only)")
		}
		if c.IsProduction() {
			return fmt.Errorf("ALLOW_UNAUTHENTICATED_WEBHOOK is not permitted in production")
		}
	}

	if c.IngestBatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.IngestBatchSize)
	}
	if c.IngestTimeoutSeconds <= 0 {
		return fmt.Errorf("INGEST_TIMEOUT_SECONDS must be positive, got %d", c.IngestTimeoutSeconds)
	}

	return nil
}
