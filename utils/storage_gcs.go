package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBlobStore keeps claim files in a single Google Cloud Storage bucket.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	ttl    time.Duration
	// sign is swapped in tests.
	sign func(ctx context.Context, bucket, objectKey string, expires time.Duration) (string, error)
}

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func NewGCSBlobStore(ctx context.Context, bucket, prefix string, ttl time.Duration) (*GCSBlobStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &GCSBlobStore{client: client, bucket: bucket, prefix: prefix, ttl: ttl, sign: newGCSSigner().sign}, nil
}

func (s *GCSBlobStore) Upload(ctx context.Context, r io.Reader, contentType, category, storageName string) (string, error) {
	ref, err := ObjectRef(category, storageName)
	if err != nil {
		return "", err
	}

	wc := s.client.Bucket(s.bucket).Object(ObjectKey(s.prefix, ref)).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = map[string]string{"category": category}

	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload %s to Google Cloud Storage: %w", ref, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return ref, nil
}

func (s *GCSBlobStore) SignedURL(ctx context.Context, ref string) (string, error) {
	if _, _, err := SplitObjectRef(ref); err != nil {
		return "", err
	}
	return s.sign(ctx, s.bucket, ObjectKey(s.prefix, ref), s.ttl)
}

func (s *GCSBlobStore) List(ctx context.Context, category string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: ObjectKey(s.prefix, category) + "/",
	})
	var refs []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, RefFromObjectKey(s.prefix, attrs.Name))
	}
	return refs, nil
}

func (s *GCSBlobStore) Delete(ctx context.Context, ref string) error {
	if _, _, err := SplitObjectRef(ref); err != nil {
		return err
	}
	err := s.client.Bucket(s.bucket).Object(ObjectKey(s.prefix, ref)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}
