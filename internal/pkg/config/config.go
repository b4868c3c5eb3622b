// Package config collects every setting the service needs into one struct that
// main builds once and injects into constructors. Nothing below cmd/ reads the
// environment directly for secrets.
package config

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Cache      CacheConfig
	Gateway    GatewayConfig
	Settlement SettlementConfig
	Order      ServiceEndpoint
	Identity   ServiceEndpoint
	SMTP       SMTPConfig
	S3         S3Config
	Jobs       JobsConfig
}

type AppConfig struct {
	Host     string
	Port     string
	Env      string
	AdminKey string
	Currency string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type CacheConfig struct {
	Host       string
	Port       string
	Password   string
	DB         int
	PaymentTTL time.Duration
	// DistributedLocks switches per-entity locks from in-process to Redis.
	DistributedLocks bool
	LockTTL          time.Duration
}

type GatewayConfig struct {
	Name          string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       time.Duration
}

// lockMargin covers the database work done under a lock around gateway calls.
const lockMargin = 5 * time.Second

// Budget is the longest a retried gateway call can take: every attempt hitting
// its timeout plus the linear backoff between attempts.
func (g GatewayConfig) Budget() time.Duration {
	attempts := g.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	waits := attempts * (attempts - 1) / 2
	return time.Duration(attempts)*g.Timeout + time.Duration(waits)*g.Backoff
}

type SettlementConfig struct {
	CommissionPercentage decimal.Decimal
	Interval             time.Duration
}

type ServiceEndpoint struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type S3Config struct {
	Enabled         bool
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string
}

type JobsConfig struct {
	Workers             int
	WebhookReplayEvery  time.Duration
	RefundSyncEvery     time.Duration
	ReplayBatchSize     int
	SettlementLookback  time.Duration
	SettlementScheduled bool
}

// Load reads the configuration from env (after env.SetupEnvFile).
func Load() (*Config, error) {
	pct, err := money.ParsePercentage(env.GetEnv("SETTLEMENT_COMMISSION_PERCENT", "10"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Host:     env.GetEnv("APP_HOST", "localhost"),
			Port:     env.GetEnv("APP_PORT", "4000"),
			Env:      env.GetEnv("APP_ENV", "prod"),
			AdminKey: env.GetEnv("ADMIN_API_KEY", ""),
			Currency: env.GetEnv("DEFAULT_CURRENCY", "INR"),
		},
		DB: DBConfig{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: CacheConfig{
			Host:             env.GetEnv("CACHE_HOST", "localhost"),
			Port:             env.GetEnv("CACHE_PORT", "6379"),
			Password:         env.GetEnv("CACHE_PASSWORD", ""),
			DB:               env.GetInt("CACHE_DB", 0),
			PaymentTTL:       env.GetDuration("CACHE_PAYMENT_TTL", 10*time.Minute),
			DistributedLocks: env.GetBool("DISTRIBUTED_LOCKS", false),
			LockTTL:          env.GetDuration("LOCK_TTL", 30*time.Second),
		},
		Gateway: GatewayConfig{
			Name:          env.GetEnv("GATEWAY_NAME", "razorpay"),
			KeyID:         env.GetEnv("RAZORPAY_KEY", ""),
			KeySecret:     env.GetEnv("RAZORPAY_SECRET", ""),
			WebhookSecret: env.GetEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			Timeout:       env.GetDuration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxAttempts:   env.GetInt("GATEWAY_MAX_ATTEMPTS", 3),
			Backoff:       env.GetDuration("GATEWAY_BACKOFF", 200*time.Millisecond),
		},
		Settlement: SettlementConfig{
			CommissionPercentage: pct,
			Interval:             env.GetDuration("SETTLEMENT_INTERVAL", 24*time.Hour),
		},
		Order: ServiceEndpoint{
			BaseURL: env.GetEnv("ORDER_SERVICE_URL", ""),
			Token:   env.GetEnv("ORDER_SERVICE_TOKEN", ""),
			Timeout: env.GetDuration("ORDER_SERVICE_TIMEOUT", 5*time.Second),
		},
		Identity: ServiceEndpoint{
			BaseURL: env.GetEnv("IDENTITY_SERVICE_URL", ""),
			Token:   env.GetEnv("IDENTITY_SERVICE_TOKEN", ""),
			Timeout: env.GetDuration("IDENTITY_SERVICE_TIMEOUT", 5*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetInt("SMTP_PORT", 587),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			From:     env.GetEnv("SMTP_FROM", ""),
		},
		S3: S3Config{
			Enabled:         env.GetBool("S3_STATEMENTS_ENABLED", false),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-west-001"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
		Jobs: JobsConfig{
			Workers:             env.GetInt("JOB_WORKERS", 3),
			WebhookReplayEvery:  env.GetDuration("WEBHOOK_REPLAY_INTERVAL", 2*time.Minute),
			RefundSyncEvery:     env.GetDuration("REFUND_SYNC_INTERVAL", 5*time.Minute),
			ReplayBatchSize:     env.GetInt("WEBHOOK_REPLAY_BATCH", 50),
			SettlementLookback:  env.GetDuration("SETTLEMENT_LOOKBACK", 24*time.Hour),
			SettlementScheduled: env.GetBool("SETTLEMENT_SCHEDULE_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Gateway.WebhookSecret == "" {
		return errors.New("RAZORPAY_WEBHOOK_SECRET is required")
	}
	if c.Gateway.KeySecret == "" {
		return errors.New("RAZORPAY_SECRET is required")
	}
	if c.App.AdminKey == "" {
		return errors.New("ADMIN_API_KEY is required")
	}
	if c.S3.Enabled {
		if c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "" || c.S3.BucketName == "" {
			return errors.New("S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY and S3_BUCKET_NAME are required when S3 statements are enabled")
		}
	}
	if c.Gateway.MaxAttempts < 1 {
		c.Gateway.MaxAttempts = 1
	}
	// a lock held across a retried gateway call must not expire under it
	if floor := c.Gateway.Budget() + lockMargin; c.Cache.LockTTL < floor {
		c.Cache.LockTTL = floor
	}
	return nil
}
