// Package s3storage keeps encrypted blobs in a MinIO/S3 bucket.
package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/DropZone/internal/blob"
)

// Options carries the connection settings pulled from config.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Storage wraps MinIO/S3 interactions for encrypted blobs.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

var _ blob.Store = (*Storage)(nil)

// New creates a MinIO client.
func New(opts Options) (*Storage, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

// EnsureBucket makes sure the blob bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put uploads the ciphertext. Blobs are opaque, so the content type is
// always application/octet-stream.
func (s *Storage) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if !blob.ValidName(name) {
		return blob.ErrInvalidName
	}
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if _, err := s.client.PutObject(ctx, s.bucket, name, r, size, opts); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Open stats the object first because GetObject is lazy and would only
// surface a missing key on the first Read.
func (s *Storage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !blob.ValidName(name) {
		return nil, blob.ErrInvalidName
	}
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		return nil, mapErr("stat object", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr("get object", err)
	}
	return obj, nil
}

// Delete reports blob.ErrNotExist for a missing key; RemoveObject alone
// succeeds silently in that case.
func (s *Storage) Delete(ctx context.Context, name string) error {
	if !blob.ValidName(name) {
		return blob.ErrInvalidName
	}
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		return mapErr("stat object", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return mapErr("remove object", err)
	}
	return nil
}

func mapErr(op string, err error) error {
	if isNotFound(err) {
		return blob.ErrNotExist
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
