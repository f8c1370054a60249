package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/Entitled/internal/pkg/env"
)

// Config holds the S3 settings for the ledger archive.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // optional, for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads archive configuration from S3_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_ARCHIVE_PREFIX", "ledger"), "/"),
		Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the ledger archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the ledger archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the ledger archive is enabled")
		}
	}

	return cfg, nil
}

// ObjectKey returns the key for a batch archived at t.
// Format: <prefix>/YYYY/MM/DD/<unix>-<uuid>.jsonl
func (c *Config) ObjectKey(t time.Time) string {
	t = t.UTC()
	key := fmt.Sprintf("%04d/%02d/%02d/%d-%s.jsonl", t.Year(), t.Month(), t.Day(), t.Unix(), uuid.NewString())
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}
