package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxObjectBytes caps what Upload buffers; claim files are far smaller.
const maxObjectBytes int64 = 32 * 1024 * 1024

type S3Options struct {
	Bucket string
	Region string
	// Endpoint targets LocalStack or another S3-compatible service; path-style
	// addressing is used whenever it is set.
	Endpoint string
	Prefix   string
	TTL      time.Duration
}

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3BlobStore keeps claim files in an S3 bucket.
type S3BlobStore struct {
	api     s3API
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

func NewS3BlobStore(ctx context.Context, opts S3Options) (*S3BlobStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &S3BlobStore{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  opts.Prefix,
		ttl:     ttl,
	}, nil
}

func (s *S3BlobStore) Upload(ctx context.Context, r io.Reader, contentType, category, storageName string) (string, error) {
	ref, err := ObjectRef(category, storageName)
	if err != nil {
		return "", err
	}

	// PutObject needs a seekable body to sign the payload.
	data, err := io.ReadAll(io.LimitReader(r, maxObjectBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file content: %w", err)
	}
	if int64(len(data)) > maxObjectBytes {
		return "", fmt.Errorf("object %s exceeds %d bytes", ref, maxObjectBytes)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(ObjectKey(s.prefix, ref)),
		Body:                 bytes.NewReader(data),
		ContentLength:        aws.Int64(int64(len(data))),
		ContentType:          aws.String(contentType),
		Metadata:             map[string]string{"category": category},
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", ref, err)
	}
	return ref, nil
}

func (s *S3BlobStore) SignedURL(ctx context.Context, ref string) (string, error) {
	if _, _, err := SplitObjectRef(ref); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(s.prefix, ref)),
	}, func(o *s3.PresignOptions) { o.Expires = s.ttl })
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3BlobStore) List(ctx context.Context, category string) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(ObjectKey(s.prefix, category) + "/"),
	})
	var refs []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			refs = append(refs, RefFromObjectKey(s.prefix, aws.ToString(obj.Key)))
		}
	}
	return refs, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, ref string) error {
	if _, _, err := SplitObjectRef(ref); err != nil {
		return err
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(s.prefix, ref)),
	})
	return err
}

func (s *S3BlobStore) Close() error {
	return nil
}
