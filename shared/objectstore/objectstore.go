// Package objectstore stores job artifacts by bucket and key.
// Providers: "minio" for S3-compatible servers and "filesystem" for a local directory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

var (
	// ErrNotFound is returned when the object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that are empty or contain path elements
	ErrInvalidKey = errors.New("invalid object key")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is implemented by every provider
type Store interface {
	// Put writes the object, replacing any existing one. size may be -1 when unknown.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// Get opens the object for reading. The caller closes it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// Config selects and configures a provider
type Config struct {
	Provider  string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Path      string
}

// New builds the configured provider
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Provider {
	case "minio":
		return NewMinio(ctx, cfg, logger)
	case "filesystem", "":
		return NewFilesystem(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

func validate(bucket, key string) error {
	if !keyPattern.MatchString(bucket) {
		return fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key %q", ErrInvalidKey, key)
	}
	return nil
}
