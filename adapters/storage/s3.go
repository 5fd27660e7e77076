package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// S3Client defines the minimal S3 interface used by the store.
// NewAWSClient provides one on aws-sdk-go-v2; tests inject doubles.
type S3Client interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}

// S3 is the ObjectStore backed by AWS S3 (or S3-compatible stores).
type S3 struct {
	client S3Client
	bucket string
}

// NewS3 creates an S3 store.  client must not be nil.
func NewS3(client S3Client, defaultBucket string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	return &S3{client: client, bucket: defaultBucket}, nil
}

func (s *S3) bucketFor(key core.StorageKey) string {
	if key.Bucket != "" {
		return key.Bucket
	}
	return s.bucket
}

func (s *S3) Open(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.open", err)
	}
	rc, err := s.client.GetObject(ctx, s.bucketFor(key), key.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.open", err)
	}
	return rc, nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	ok, err := s.client.HeadObject(ctx, s.bucketFor(key), key.Path)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	return ok, nil
}
