/*
Package storage hands out presigned URLs for images kept in S3-compatible object storage:
avatars and pictures shared in rooms. Clients upload and download directly against the
bucket; the server only signs.
*/
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by New when no bucket is configured.
var ErrDisabled = errors.New("object storage is not configured")

// Config holds the connection settings of the bucket.
type Config struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether every setting needed to reach the bucket is present.
func (c Config) Enabled() bool {
	return c.BucketName != "" && c.Endpoint != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Service is the object storage as the HTTP handlers use it.
type Service interface {
	// PresignUpload returns a URL the client can PUT exactly one object of the given type and size to.
	PresignUpload(ctx context.Context, key, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// PresignDownload returns a time-limited GET URL for key.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ObjectMetadata returns Content-Type and Content-Length of key.
	ObjectMetadata(ctx context.Context, key string) (map[string]string, error)
}

// New connects to the configured bucket, or returns ErrDisabled.
func New(ctx context.Context, cfg Config) (Service, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	return newS3Client(ctx, cfg)
}
