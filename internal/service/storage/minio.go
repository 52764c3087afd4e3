package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"diginetra/internal/logger"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig contains MinIO configuration
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// MinIOArchive uploads snapshots to a bucket.
type MinIOArchive struct {
	client *minio.Client
	bucket string
	config MinIOConfig
	logger *zap.Logger

	uploads      atomic.Uint64
	uploadErrors atomic.Uint64
}

// NewMinIOArchive connects to MinIO and makes sure the bucket exists.
func NewMinIOArchive(ctx context.Context, config MinIOConfig, log *logger.Logger) (*MinIOArchive, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	a := &MinIOArchive{
		client: client,
		bucket: config.Bucket,
		config: config,
		logger: log.Named("minio").Zap(),
	}

	cctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(cctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(cctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		a.logger.Info("Created MinIO bucket", zap.String("bucket", config.Bucket))
	}

	return a, nil
}

// Upload stores data under key, retrying with exponential backoff.
func (a *MinIOArchive) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = a.config.RetryBackoff
		ebo.Reset()
		if a.config.MaxRetries > 0 {
			return backoff.WithMaxRetries(ebo, uint64(a.config.MaxRetries))
		}
		return ebo
	}

	op := func() error {
		info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			a.uploadErrors.Add(1)
			return err
		}
		a.uploads.Add(1)
		a.logger.Debug("Snapshot archived",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Uploads returns the number of successful uploads.
func (a *MinIOArchive) Uploads() uint64 { return a.uploads.Load() }

// UploadErrors returns the number of failed upload attempts.
func (a *MinIOArchive) UploadErrors() uint64 { return a.uploadErrors.Load() }
