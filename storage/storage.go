// Package storage keeps evidence artifacts in a blob store addressed by
// slash-separated keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrFileNotFound is returned when a requested object does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned when a key is empty, absolute or escapes the store root.
	ErrInvalidPath = errors.New("invalid path")
)

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// BlobStorage stores and retrieves binary objects.
type BlobStorage interface {
	// Upload stores data from the reader under key.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error

	// Download retrieves the object stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// URL returns a location from which the object can be fetched.
	URL(ctx context.Context, key string) (string, error)
}

// Config selects and configures a BlobStorage implementation.
type Config struct {
	Type          string
	BaseDir       string
	Bucket        string
	Region        string
	Prefix        string
	PresignExpiry time.Duration
}

// NewBlobStorage creates the BlobStorage described by cfg.
func NewBlobStorage(ctx context.Context, cfg Config) (BlobStorage, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeLocal:
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("base_dir is required for local storage")
		}
		return NewLocalStorage(cfg.BaseDir)

	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for S3 storage")
		}
		if cfg.Region == "" {
			return nil, fmt.Errorf("region is required for S3 storage")
		}
		s, err := NewS3Storage(ctx, cfg.Bucket, cfg.Region, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		if cfg.PresignExpiry > 0 {
			s.presignExpiration = cfg.PresignExpiry
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}

// cleanKey normalizes a key and rejects absolute keys or keys that climb
// out of the store root.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: key cannot be empty", ErrInvalidPath)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: absolute keys not allowed", ErrInvalidPath)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidPath)
	}
	return cleaned, nil
}
