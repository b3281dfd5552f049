package driver

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kcsanjeeb/dedup-registry/internal/config"
	"github.com/kcsanjeeb/dedup-registry/internal/storage"
)

// MinIOStorage implements storage.Backend against an S3-compatible
// endpoint. Used both as the "minio" storage backend and as the
// destination of an off-site block Mirror.
type MinIOStorage struct {
	client   *minio.Client
	bucket   string
	location string
}

// NewMinIOStorage dials endpoint and ensures bucket exists.
func NewMinIOStorage(cfg config.MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio: endpoint is required")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "dedup-registry"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio: create bucket: %w", err)
		}
	}

	return &MinIOStorage{client: client, bucket: bucket, location: "us-east-1"}, nil
}

func (s *MinIOStorage) validatePath(path string) error {
	if strings.Contains(path, "..") || len(path) > 1024 {
		return storage.ErrInvalidPath
	}
	return nil
}

func (s *MinIOStorage) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("minio: put object: %w", err)
	}
	return nil
}

func (s *MinIOStorage) Get(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := s.validatePath(path); err != nil {
		return nil, 0, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("minio: get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, 0, storage.ErrNotFound
		}
		return nil, 0, fmt.Errorf("minio: stat object: %w", err)
	}
	return obj, info.Size, nil
}

func (s *MinIOStorage) Delete(ctx context.Context, path string) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio: delete object: %w", err)
	}
	return nil
}

func (s *MinIOStorage) Exists(ctx context.Context, path string) (bool, error) {
	if err := s.validatePath(path); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio: stat object: %w", err)
	}
	return true, nil
}

func (s *MinIOStorage) Stat(ctx context.Context, path string) (int64, string, error) {
	if err := s.validatePath(path); err != nil {
		return 0, "", err
	}
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, "", storage.ErrNotFound
		}
		return 0, "", fmt.Errorf("minio: stat object: %w", err)
	}
	return info.Size, info.LastModified.Format("2006-01-02T15:04:05Z"), nil
}

func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.validatePath(prefix); err != nil {
		return nil, err
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinIOStorage) GetUsage(ctx context.Context, prefix string) (int64, int64, error) {
	if err := s.validatePath(prefix); err != nil {
		return 0, 0, err
	}
	var totalSize, count int64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, 0, fmt.Errorf("minio: list objects: %w", obj.Err)
		}
		totalSize += obj.Size
		count++
	}
	return totalSize, count, nil
}

func (s *MinIOStorage) Name() string { return "minio" }

func (s *MinIOStorage) Close() error { return nil }

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || strings.Contains(err.Error(), "does not exist")
}
