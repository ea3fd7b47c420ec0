package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores objects on an S3-compatible server. Buckets are created on first use.
type Minio struct {
	client *minio.Client
	region string
	logger *slog.Logger
}

// NewMinio creates a MinIO client from cfg
func NewMinio(ctx context.Context, cfg Config, logger *slog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	logger.Info("Object storage configured",
		slog.String("provider", "minio"),
		slog.String("endpoint", cfg.Endpoint),
	)

	return &Minio{client: client, region: cfg.Region, logger: logger}, nil
}

func (m *Minio) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		// Another writer may have created it between the two calls.
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	m.logger.Info("Created bucket", slog.String("bucket", bucket))
	return nil
}

// Put uploads the object
func (m *Minio) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	if err := m.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Get stats then opens the object, mapping missing keys to ErrNotFound
func (m *Minio) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := validate(bucket, key); err != nil {
		return nil, err
	}

	if _, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, mapMinioError(err, bucket, key)
	}

	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err, bucket, key)
	}
	return obj, nil
}

// Delete removes the object
func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	if err := validate(bucket, key); err != nil {
		return err
	}

	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if errors.Is(mapMinioError(err, bucket, key), ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func mapMinioError(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	default:
		return fmt.Errorf("failed to get object: %w", err)
	}
}
