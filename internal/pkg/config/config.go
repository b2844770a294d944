package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/env"
)

const (
	CronModeExternal = "external"
	CronModeInternal = "internal"
)

// Config is the typed runtime configuration of the engine.
type Config struct {
	AppEnv       string `validate:"required,oneof=dev test prod"`
	AppHost      string `validate:"required"`
	AppPort      string `validate:"required,numeric"`
	PublicDomain string

	Database DatabaseConfig
	Cache    CacheConfig
	Billing  BillingConfig
	Sequence SequenceConfig
	SMTP     SMTPConfig
	Metrics  MetricsConfig
	Audit    AuditConfig

	CronSecret       string
	CronMode         string `validate:"oneof=external internal"`
	InternalAPIToken string
	TesterEmails     []string
	UsageTimezone    string `validate:"required,timezone"`
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string
	Password string
	Name     string
}

type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
}

type BillingConfig struct {
	WebhookSecret      string
	Environment        string        `validate:"oneof=production sandbox"`
	IdempotencyBackend string        `validate:"oneof=memory redis"`
	IdempotencyTTL     time.Duration `validate:"gt=0"`
	IdempotencySize    int           `validate:"gt=0"`
}

type SequenceConfig struct {
	BatchSize           int           `validate:"gt=0"`
	IntakeBatchSize     int           `validate:"gt=0"`
	SendDelay           time.Duration `validate:"gte=0"`
	ClaimTTL            time.Duration `validate:"gt=0"`
	SendTimeout         time.Duration `validate:"gt=0"`
	InactivityThreshold time.Duration `validate:"gt=0"`
	Cooldown            time.Duration `validate:"gte=0"`
	OnboardingWindow    time.Duration `validate:"gte=0"`
	File                string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type MetricsConfig struct {
	User     string
	Password string
}

type AuditConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "prod")
	v.SetDefault("APP_HOST", "localhost")
	v.SetDefault("APP_PORT", "4000")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("CACHE_HOST", "localhost")
	v.SetDefault("CACHE_PORT", "6379")
	v.SetDefault("BILLING_ENVIRONMENT", "production")
	v.SetDefault("IDEMPOTENCY_BACKEND", "memory")
	v.SetDefault("IDEMPOTENCY_TTL", "10m")
	v.SetDefault("IDEMPOTENCY_SIZE", 10000)
	v.SetDefault("SEQUENCE_BATCH_SIZE", 50)
	v.SetDefault("INTAKE_BATCH_SIZE", 200)
	v.SetDefault("SEQUENCE_SEND_DELAY", "200ms")
	v.SetDefault("SEQUENCE_CLAIM_TTL", "5m")
	v.SetDefault("SEND_TIMEOUT", "15s")
	v.SetDefault("INACTIVITY_THRESHOLD", "168h")
	v.SetDefault("SEQUENCE_COOLDOWN", "720h")
	v.SetDefault("ONBOARDING_WINDOW", "48h")
	v.SetDefault("USAGE_TIMEZONE", "UTC")
	v.SetDefault("CRON_MODE", CronModeExternal)
	v.SetDefault("METRICS_USER", "admin")
}

// Load builds the configuration from defaults, the loaded .env map and the
// process environment, in increasing order of precedence.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fileValues := make(map[string]any, len(env.Env))
	for k, val := range env.Env {
		fileValues[k] = val
	}
	if err := v.MergeConfigMap(fileValues); err != nil {
		return nil, fmt.Errorf("merge .env values: %w", err)
	}
	v.AutomaticEnv()

	return FromViper(v)
}

// FromViper maps an already populated viper instance onto Config.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppEnv:       strings.ToLower(v.GetString("APP_ENV")),
		AppHost:      v.GetString("APP_HOST"),
		AppPort:      v.GetString("APP_PORT"),
		PublicDomain: strings.TrimRight(v.GetString("PUBLIC_DOMAIN"), "/"),
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
		},
		Cache: CacheConfig{
			Host:     v.GetString("CACHE_HOST"),
			Port:     v.GetString("CACHE_PORT"),
			Password: v.GetString("CACHE_PASSWORD"),
		},
		Billing: BillingConfig{
			WebhookSecret:      strings.TrimSpace(v.GetString("BILLING_WEBHOOK_SECRET")),
			Environment:        strings.ToLower(v.GetString("BILLING_ENVIRONMENT")),
			IdempotencyBackend: strings.ToLower(v.GetString("IDEMPOTENCY_BACKEND")),
			IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
			IdempotencySize:    v.GetInt("IDEMPOTENCY_SIZE"),
		},
		Sequence: SequenceConfig{
			BatchSize:           v.GetInt("SEQUENCE_BATCH_SIZE"),
			IntakeBatchSize:     v.GetInt("INTAKE_BATCH_SIZE"),
			SendDelay:           v.GetDuration("SEQUENCE_SEND_DELAY"),
			ClaimTTL:            v.GetDuration("SEQUENCE_CLAIM_TTL"),
			SendTimeout:         v.GetDuration("SEND_TIMEOUT"),
			InactivityThreshold: v.GetDuration("INACTIVITY_THRESHOLD"),
			Cooldown:            v.GetDuration("SEQUENCE_COOLDOWN"),
			OnboardingWindow:    v.GetDuration("ONBOARDING_WINDOW"),
			File:                v.GetString("SEQUENCES_FILE"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetString("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			Sender:   v.GetString("SMTP_SENDER"),
		},
		Metrics: MetricsConfig{
			User:     v.GetString("METRICS_USER"),
			Password: v.GetString("METRICS_PASSWORD"),
		},
		Audit: AuditConfig{
			Bucket:          v.GetString("AUDIT_S3_BUCKET"),
			Region:          v.GetString("AUDIT_S3_REGION"),
			Endpoint:        v.GetString("AUDIT_S3_ENDPOINT"),
			AccessKeyID:     v.GetString("AUDIT_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AUDIT_S3_SECRET_ACCESS_KEY"),
		},
		CronSecret:       strings.TrimSpace(v.GetString("CRON_SECRET")),
		CronMode:         strings.ToLower(v.GetString("CRON_MODE")),
		InternalAPIToken: strings.TrimSpace(v.GetString("INTERNAL_API_TOKEN")),
		TesterEmails:     splitList(v.GetString("TESTER_EMAILS")),
		UsageTimezone:    v.GetString("USAGE_TIMEZONE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints; outside dev every shared secret is mandatory.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsDev() {
		return nil
	}

	var missing []string
	if c.Billing.WebhookSecret == "" {
		missing = append(missing, "BILLING_WEBHOOK_SECRET")
	}
	if c.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}
	if c.InternalAPIToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	if len(missing) > 0 {
		return errors.New("missing required secrets: " + strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// Location returns the timezone used for usage counter periods.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.UsageTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuditArchiveEnabled reports whether the S3 audit export is configured.
func (c *Config) AuditArchiveEnabled() bool {
	return c.Audit.Bucket != "" && c.Audit.AccessKeyID != "" && c.Audit.SecretAccessKey != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
