package utils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

// gcsSigner produces V4 signed GET URLs. Credentials are resolved on first
// use and then reused: an inline key from GCS_CREDENTIALS_JSON or
// GCS_SIGNER_EMAIL/GCS_SIGNER_PRIVATE_KEY, else IAM SignBlob for the runtime
// service account.
type gcsSigner struct {
	once       sync.Once
	initErr    error
	accessID   string
	privateKey []byte
	signBytes  func([]byte) ([]byte, error)
	now        func() time.Time
}

func newGCSSigner() *gcsSigner {
	return &gcsSigner{now: time.Now}
}

func (s *gcsSigner) resolve(ctx context.Context) error {
	s.once.Do(func() {
		id, key, err := signerKeyFromEnv()
		if err != nil {
			s.initErr = err
			return
		}
		if key != nil {
			s.accessID, s.privateKey = id, key
			return
		}
		s.accessID, s.signBytes, s.initErr = iamSignBlob(ctx)
	})
	return s.initErr
}

// sign matches GCSBlobStore.sign.
func (s *gcsSigner) sign(ctx context.Context, bucket, objectKey string, expires time.Duration) (string, error) {
	if bucket == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	if err := s.resolve(ctx); err != nil {
		return "", fmt.Errorf("gcs signer: %w", err)
	}
	return storage.SignedURL(bucket, objectKey, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().Add(expires),
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
		SignBytes:      s.signBytes,
	})
}

// signerKeyFromEnv returns a nil key when no inline key is configured.
func signerKeyFromEnv() (string, []byte, error) {
	if raw := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); raw != "" {
		var sa struct {
			ClientEmail string `json:"client_email"`
			PrivateKey  string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(raw), &sa); err != nil {
			return "", nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if sa.ClientEmail == "" || sa.PrivateKey == "" {
			return "", nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		return sa.ClientEmail, pemFromEnv(sa.PrivateKey), nil
	}

	email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL"))
	key := strings.TrimSpace(os.Getenv("GCS_SIGNER_PRIVATE_KEY"))
	if email == "" || key == "" {
		return "", nil, nil
	}
	return email, pemFromEnv(key), nil
}

// Keys pasted into env files usually carry escaped newlines.
func pemFromEnv(key string) []byte {
	return []byte(strings.ReplaceAll(key, `\n`, "\n"))
}

func iamSignBlob(ctx context.Context) (string, func([]byte) ([]byte, error), error) {
	email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL"))
	if email == "" && metadata.OnGCE() {
		var err error
		if email, err = metadata.Email("default"); err != nil {
			return "", nil, fmt.Errorf("default service account email: %w", err)
		}
	}
	if email == "" {
		return "", nil, errors.New("GCS_SIGNER_EMAIL is required when no private key is provided")
	}

	creds, err := google.FindDefaultCredentials(ctx, iamcredentials.CloudPlatformScope)
	if err != nil {
		return "", nil, fmt.Errorf("load ADC credentials: %w", err)
	}
	svc, err := iamcredentials.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return "", nil, fmt.Errorf("iamcredentials service: %w", err)
	}

	name := "projects/-/serviceAccounts/" + email
	return email, func(payload []byte) ([]byte, error) {
		resp, err := svc.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
			Payload: base64.StdEncoding.EncodeToString(payload),
		}).Do()
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(resp.SignedBlob)
	}, nil
}
