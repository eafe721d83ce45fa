package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror copies completed job outputs to S3-compatible object storage so
// they can be fetched through a presigned link without hitting the API.
type Mirror struct {
	client *minio.Client
	bucket string
}

// MirrorConfig holds the object storage connection settings.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NewMirror connects to the object store and makes sure the bucket exists.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("storage: make bucket: %w", err)
		}
	}

	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey returns the key used to mirror a job output.
func ObjectKey(jobID, path string) string {
	return fmt.Sprintf("results/%s/%s", jobID, filepath.Base(path))
}

// Upload copies the local file at path to key.
func (m *Mirror) Upload(ctx context.Context, key, path string) error {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

// DownloadURL returns a presigned GET link valid for ttl.
func (m *Mirror) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(key)))
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes a mirrored object. Missing objects are not an error.
func (m *Mirror) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}
