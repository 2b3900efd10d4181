package utils

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/diplomas_backend/config"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderMinio = "minio"
)

// ArtifactStore is the object storage that receives rendered diplomas.
type ArtifactStore interface {
	// EnsureBucket creates bucket if needed; an already existing bucket is not an error.
	EnsureBucket(ctx context.Context, bucket string) error
	// UploadFile stores the local file at path under bucket/key.
	UploadFile(ctx context.Context, bucket, key, path, contentType string) error
	Close() error
}

func GetStorageProvider(cfg *config.Config) string {
	provider := strings.TrimSpace(strings.ToLower(cfg.StorageProvider))
	if provider == "" {
		return StorageProviderMinio
	}
	return provider
}

// NewArtifactStore opens the store selected by STORAGE_PROVIDER. The caller owns and closes it.
func NewArtifactStore(ctx context.Context, cfg *config.Config) (ArtifactStore, error) {
	switch provider := GetStorageProvider(cfg); provider {
	case StorageProviderGCS:
		return NewGCSStore(ctx, cfg.GCSCredentialsJSON, cfg.GCSProjectID)
	case StorageProviderMinio:
		return NewMinioStore(cfg.MinioURL, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROVIDER %q", provider)
	}
}
