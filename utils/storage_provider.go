package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageProviderGCS = "gcs"
	StorageProviderS3  = "s3"
)

const DefaultSignedURLTTL = 300 * time.Second

// BlobStore is implemented by every storage provider.
type BlobStore interface {
	Upload(ctx context.Context, r io.Reader, contentType, category, storageName string) (string, error)
	SignedURL(ctx context.Context, ref string) (string, error)
	// List returns every reference stored under category.
	List(ctx context.Context, category string) ([]string, error)
	Delete(ctx context.Context, ref string) error
	Close() error
}

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

// SignedURLTTL reads SIGNED_URL_TTL_SECONDS, defaulting to five minutes.
func SignedURLTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("SIGNED_URL_TTL_SECONDS"))
	if raw == "" {
		return DefaultSignedURLTTL
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultSignedURLTTL
	}
	return time.Duration(n) * time.Second
}

// NewBlobStore builds the store selected by STORAGE_PROVIDER.
func NewBlobStore(ctx context.Context) (BlobStore, error) {
	prefix := strings.TrimSpace(os.Getenv("STORAGE_PREFIX"))
	ttl := SignedURLTTL()

	switch GetStorageProvider() {
	case StorageProviderGCS:
		return NewGCSBlobStore(ctx, strings.TrimSpace(os.Getenv("GCS_BUCKET")), prefix, ttl)
	case StorageProviderS3:
		return NewS3BlobStore(ctx, S3Options{
			Bucket:   strings.TrimSpace(os.Getenv("S3_BUCKET")),
			Region:   strings.TrimSpace(os.Getenv("AWS_REGION")),
			Endpoint: strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL")),
			Prefix:   prefix,
			TTL:      ttl,
		})
	default:
		return nil, fmt.Errorf("storage provider %q is not supported", GetStorageProvider())
	}
}
