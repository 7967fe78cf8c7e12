package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SpriteMirror replicates sprite files to a MinIO/S3 bucket so they survive
// local disk loss and can be served from a CDN-backed endpoint.
type SpriteMirror struct {
	client *minio.Client
	bucket string
}

// NewSpriteMirrorFromEnv initialises the mirror using MINIO_* environment
// variables. Returns (nil, nil) when the mirror is not configured.
func NewSpriteMirrorFromEnv() (*SpriteMirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &SpriteMirror{client: client, bucket: bucket}, nil
}

// objectName returns the deterministic object key for a record's sprite.
func (m *SpriteMirror) objectName(id uint64) string {
	return fmt.Sprintf("sprites/%d.png", id)
}

// Put uploads sprite bytes under the record's deterministic object key,
// replacing any previous object.
func (m *SpriteMirror) Put(ctx context.Context, id uint64, data []byte) error {
	if m == nil || m.client == nil {
		return nil
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := m.client.PutObject(uploadCtx, m.bucket, m.objectName(id), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "image/png",
		CacheControl: "public, max-age=604800",
	})
	if err != nil {
		return fmt.Errorf("storage: upload sprite: %w", err)
	}
	return nil
}

// Remove deletes the mirrored sprite object for a record.
func (m *SpriteMirror) Remove(ctx context.Context, id uint64) error {
	if m == nil || m.client == nil {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return m.client.RemoveObject(removeCtx, m.bucket, m.objectName(id), minio.RemoveObjectOptions{})
}
