package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore keeps diplomas in Google Cloud Storage.
type GCSStore struct {
	client    *storage.Client
	projectId string
}

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context, credJSON string) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func NewGCSStore(ctx context.Context, credJSON, projectId string) (*GCSStore, error) {
	client, err := getGoogleClient(ctx, credJSON)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client, projectId: projectId}, nil
}

func (s *GCSStore) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("gcs bucket %q not accessible: %w", bucket, err)
	}
	if s.projectId == "" {
		return fmt.Errorf("gcs bucket %q does not exist and GCS_PROJECT_ID is not set", bucket)
	}
	if err := s.client.Bucket(bucket).Create(ctx, s.projectId, nil); err != nil && !isGCSBucketConflict(err) {
		return fmt.Errorf("create gcs bucket %q: %w", bucket, err)
	}
	return nil
}

func (s *GCSStore) UploadFile(ctx context.Context, bucket, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	wc := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload file to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// isGCSBucketConflict reports the 409 returned when the bucket already exists.
func isGCSBucketConflict(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusConflict
	}
	return false
}
