package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/facereg/internal/config"
)

const backupPrefix = "registry-backups/"

// MinIOStore keeps an offsite copy of every registry backup.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// UploadBackup stores a registry backup under registry-backups/<name>.
func (s *MinIOStore) UploadBackup(ctx context.Context, name string, data []byte) error {
	key := backupPrefix + name
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// ListBackups returns mirrored backup names, oldest first.
func (s *MinIOStore) ListBackups(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    backupPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", backupPrefix, obj.Err)
		}
		names = append(names, path.Base(obj.Key))
	}
	// Timestamp suffixes sort lexically.
	sort.Strings(names)
	return names, nil
}

// PruneBackups deletes all but the newest keep mirrored backups.
func (s *MinIOStore) PruneBackups(ctx context.Context, keep int) (int, error) {
	names, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}
	stale := names[:len(names)-keep]

	objectsCh := make(chan minio.ObjectInfo, len(stale))
	for _, name := range stale {
		objectsCh <- minio.ObjectInfo{Key: backupPrefix + name}
	}
	close(objectsCh)
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return 0, fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
		}
	}
	return len(stale), nil
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
