package s3backup

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// Config holds the settlement statement archive configuration
type Config struct {
	config.S3Config
	AppEnv string
}

// NewConfig wraps the application S3 settings.
func NewConfig(s3 config.S3Config, appEnv string) *Config {
	return &Config{S3Config: s3, AppEnv: appEnv}
}

// IsEnabled returns true if statement archival is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetBucketName returns the configured bucket name
func (c *Config) GetBucketName() string {
	return c.BucketName
}

// StatementKey generates a standardized object key for a settlement statement
func StatementKey(vendorID, settlementID string, periodStart time.Time, ext string) string {
	// Format: statements/<vendor>/YYYY/MM/<settlement>.<ext>
	return fmt.Sprintf("statements/%s/%04d/%02d/%s.%s", vendorID, periodStart.Year(), int(periodStart.Month()), settlementID, ext)
}
