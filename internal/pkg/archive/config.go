package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
)

// Config holds the S3 settings for the webhook payload archive.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // optional, for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig reads S3_* settings. Credentials are only required when the
// archive is enabled.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "webhooks"),
		Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the archive is enabled")
		}
	}
	return cfg, nil
}

func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ObjectKey builds {prefix}/{provider}/YYYY/MM/{attemptID}.json.
func (c *Config) ObjectKey(provider string, attemptID uint, at time.Time) string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		prefix = "webhooks"
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%d.json", prefix, provider, at.Year(), int(at.Month()), attemptID)
}
