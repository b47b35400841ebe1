// Package archive mirrors active-session snapshots to S3 as a secondary,
// best-effort durability layer alongside the relational store. It is
// disabled entirely when no bucket is configured.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/streamstats/engine/internal/sessions"
)

// Config holds S3 client configuration for snapshot archival.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Client uploads snapshot mirrors to S3. A nil *Client (returned when no
// bucket is configured) is valid and every method is then a no-op.
type Client struct {
	bucket   string
	s3Client *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// New creates a Client, or returns nil (not an error) if cfg.Bucket is
// empty: archival is an optional supplement, never a hard dependency.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	logger.Info("snapshot archival enabled", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
	return &Client{bucket: cfg.Bucket, s3Client: client, uploader: uploader, logger: logger}, nil
}

// snapshotKey returns the object key for a snapshot taken at t. The key
// has one-second resolution, so each snapshot cycle gets its own object.
func snapshotKey(t time.Time) string {
	return fmt.Sprintf("snapshots/%s.json", t.UTC().Format("2006-01-02T15-04-05Z"))
}

// MirrorSnapshot uploads the live-session snapshot as a JSON object. It
// is best-effort: a failure here is logged and does not affect the
// primary relational snapshot (internal/recovery is the source of truth).
func (c *Client) MirrorSnapshot(ctx context.Context, at time.Time, live []sessions.Session) {
	if c == nil {
		return
	}
	body, err := json.Marshal(live)
	if err != nil {
		c.logger.Warn("archive: marshal snapshot failed", zap.Error(err))
		return
	}
	key := snapshotKey(at)
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		c.logger.Warn("archive: upload snapshot failed", zap.String("key", key), zap.Error(err))
	}
}
