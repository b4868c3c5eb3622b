package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	env.Env = values
	t.Cleanup(func() { env.Env = nil })
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"RAZORPAY_SECRET":         "key-secret",
		"RAZORPAY_WEBHOOK_SECRET": "hook-secret",
		"ADMIN_API_KEY":           "admin",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Settlement.CommissionPercentage.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "INR", cfg.App.Currency)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.False(t, cfg.S3.Enabled)
	assert.Greater(t, cfg.Cache.LockTTL, cfg.Gateway.Budget())
}

func TestLockTTLOutlivesGatewayRetries(t *testing.T) {
	withEnv(t, map[string]string{
		"RAZORPAY_SECRET":         "key-secret",
		"RAZORPAY_WEBHOOK_SECRET": "hook-secret",
		"ADMIN_API_KEY":           "admin",
		"LOCK_TTL":                "30s",
		"GATEWAY_TIMEOUT":         "10s",
		"GATEWAY_MAX_ATTEMPTS":    "3",
		"GATEWAY_BACKOFF":         "200ms",
	})

	cfg, err := Load()
	require.NoError(t, err)

	// three 10s attempts plus 200ms and 400ms of backoff
	assert.Equal(t, 30600*time.Millisecond, cfg.Gateway.Budget())
	assert.Equal(t, cfg.Gateway.Budget()+lockMargin, cfg.Cache.LockTTL)

	withEnv(t, map[string]string{
		"RAZORPAY_SECRET":         "key-secret",
		"RAZORPAY_WEBHOOK_SECRET": "hook-secret",
		"ADMIN_API_KEY":           "admin",
		"LOCK_TTL":                "2m",
	})
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Cache.LockTTL)
}

func TestLoadRequiresSecrets(t *testing.T) {
	withEnv(t, map[string]string{"ADMIN_API_KEY": "admin", "RAZORPAY_SECRET": "s"})

	_, err := Load()
	assert.ErrorContains(t, err, "RAZORPAY_WEBHOOK_SECRET")
}

func TestLoadRejectsBadCommission(t *testing.T) {
	withEnv(t, map[string]string{
		"RAZORPAY_SECRET":               "key-secret",
		"RAZORPAY_WEBHOOK_SECRET":       "hook-secret",
		"ADMIN_API_KEY":                 "admin",
		"SETTLEMENT_COMMISSION_PERCENT": "150",
	})

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateS3(t *testing.T) {
	cfg := &Config{
		App:     AppConfig{AdminKey: "a"},
		Gateway: GatewayConfig{KeySecret: "k", WebhookSecret: "w"},
		S3:      S3Config{Enabled: true},
	}
	assert.Error(t, cfg.Validate())

	cfg.S3 = S3Config{Enabled: true, AccessKeyID: "a", SecretAccessKey: "b", BucketName: "c"}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Gateway.MaxAttempts)
}
