// Package storage writes archived artifacts to S3-compatible object storage.
// Two backends are provided: Client on minio-go and S3Storage on the AWS SDK.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotConfigured is returned when archiving is disabled
var ErrNotConfigured = errors.New("storage: no backend configured")

// Backend names accepted by Open
const (
	BackendNone  = "none"
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// Storage is the object store the archiver writes to. Bodies are seekable
// so that a failed upload can be retried from the start.
type Storage interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Bucket() string
}

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend string
	Minio   Config
	S3      S3Config
}

// Open creates the configured backend. BackendNone (or "") yields
// ErrNotConfigured.
func Open(ctx context.Context, cfg OpenConfig) (Storage, error) {
	switch cfg.Backend {
	case BackendMinio:
		c, err := New(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := c.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case BackendS3:
		return NewS3Storage(&cfg.S3)
	default:
		return nil, ErrNotConfigured
	}
}
