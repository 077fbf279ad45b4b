package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AnastRaja/chatbot-sub000/config"
)

const documentPrefix = "documents"

// ErrNotConfigured is returned by operations that need a bucket when none is configured.
var ErrNotConfigured = errors.New("storage: object storage not configured")

// DocumentStorage keeps the original uploaded knowledge files in MinIO/S3.
type DocumentStorage struct {
	client *minio.Client
	bucket string
}

// NewDocumentStorage connects to MinIO and makes sure the bucket exists.
// It returns nil without error when storage is not configured.
func NewDocumentStorage(ctx context.Context, cfg config.MinIOConfig) (*DocumentStorage, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &DocumentStorage{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores data as documents/<projectID>/<uuid><ext> and returns the object key.
func (s *DocumentStorage) Upload(ctx context.Context, projectID uint64, fileName, contentType string, data []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}
	if len(data) == 0 {
		return "", errors.New("storage: empty document")
	}

	key := ObjectKey(projectID, fileName)
	if contentType = strings.TrimSpace(contentType); contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.PutObject(uploadCtx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"project-id": strconv.FormatUint(projectID, 10),
			"file-name":  filepath.Base(fileName),
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload document: %w", err)
	}
	return key, nil
}

// Remove deletes the object; missing storage or empty keys are ignored.
func (s *DocumentStorage) Remove(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.client.RemoveObject(removeCtx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

// PresignedURL returns a temporary download URL for the stored original.
func (s *DocumentStorage) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u, err := s.client.PresignedGetObject(presignCtx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// ObjectKey builds the bucket key for an uploaded file.
func ObjectKey(projectID uint64, fileName string) string {
	return path.Join(documentPrefix, strconv.FormatUint(projectID, 10), uuid.NewString()+documentExtension(fileName))
}

func documentExtension(fileName string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(fileName)))
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
