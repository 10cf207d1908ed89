package cloud

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// GCSStore lists objects of one Google Cloud Storage bucket.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

var _ ports.ObjectStore = (*GCSStore)(nil)

// NewGCSStore builds a client from the credentials file in cfg, or the
// application default credentials when it is empty. Extra options (endpoint,
// HTTP client) are appended.
func NewGCSStore(ctx context.Context, cfg domain.CloudConfig, extra ...option.ClientOption) (*GCSStore, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("gcs bucket: %w", domain.ErrNotConfigured)
	}
	opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadOnlyScope)}
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	opts = append(opts, extra...)

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{svc: svc, bucket: cfg.GCSBucket}, nil
}

func (s *GCSStore) Location() string {
	return fmt.Sprintf("GCS bucket '%s'", s.bucket)
}

// ListObjects returns up to max objects under prefix.
func (s *GCSStore) ListObjects(ctx context.Context, prefix string, max int) ([]domain.ObjectInfo, error) {
	if max <= 0 {
		max = 10
	}
	call := s.svc.Objects.List(s.bucket).MaxResults(int64(max)).Context(ctx)
	if prefix != "" {
		call = call.Prefix(prefix)
	}
	out, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list gcs objects: %w", err)
	}

	objects := make([]domain.ObjectInfo, 0, len(out.Items))
	for _, obj := range out.Items {
		objects = append(objects, domain.ObjectInfo{Key: obj.Name, Size: int64(obj.Size)})
	}
	return objects, nil
}
