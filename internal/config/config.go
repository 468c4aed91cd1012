// Package config defines the global configuration structure for the Inkwell
// entitlement service. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"inkwell/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"inkwell-entitlement"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Credits  CreditsConfig
	Insight  InsightConfig
	Billing  BillingConfig
	Admin    AdminConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// CreditsConfig holds the entitlement business parameters.
//
// MonthlyAllotment is the single authoritative "how many credits does
// Free/Trial get" constant. The legacy implementation carried two
// conflicting values in different modules; this is the only one.
type CreditsConfig struct {
	MonthlyAllotment int `envconfig:"CREDITS_MONTHLY_ALLOTMENT" default:"5" validate:"min=1"`
}

// InsightConfig holds the reflection-generation service parameters.
type InsightConfig struct {
	BaseURL string       `envconfig:"INSIGHT_BASE_URL" validate:"required,url"`
	APIKey  SecretString `envconfig:"INSIGHT_API_KEY" validate:"required"`
	Model   string       `envconfig:"INSIGHT_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"INSIGHT_TIMEOUT" default:"45s"`
}

// BillingConfig holds Stripe webhook integration credentials.
// Stripe is the system of record for money; this service only consumes
// verified plan-change events.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// PremiumPriceID identifies the Stripe price that maps to the premium
	// tier. Events for other prices are ignored.
	PremiumPriceID string `envconfig:"STRIPE_PREMIUM_PRICE_ID" validate:"required"`
}

// AdminConfig holds the credentials gating administrative endpoints.
type AdminConfig struct {
	// TokenHash is the bcrypt hash of the admin bearer token. The plaintext
	// token is never stored in configuration.
	TokenHash SecretString `envconfig:"ADMIN_TOKEN_HASH" validate:"required"`
}

// ArchiveConfig holds settings for the credit transaction archiver job.
type ArchiveConfig struct {
	// Retention is how long transaction rows stay in Postgres before they
	// are exported and pruned.
	Retention time.Duration `envconfig:"ARCHIVE_RETENTION" default:"2160h"` // 90 days
	OutputDir string        `envconfig:"ARCHIVE_OUTPUT_DIR" default:"/var/lib/inkwell/archive"`
	BatchSize int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"5000" validate:"min=1"`
}
