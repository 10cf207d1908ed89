package cloud

import (
	"context"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// New returns the object store configured in cfg: S3 when a bucket is set,
// then GCS. It returns (nil, nil) when neither is configured. s3Endpoint
// overrides the S3 endpoint for compatible stores.
func New(ctx context.Context, cfg domain.CloudConfig, s3Endpoint string) (ports.ObjectStore, error) {
	switch {
	case cfg.S3Bucket != "":
		s, err := NewS3Store(ctx, cfg, s3Endpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.GCSBucket != "":
		s, err := NewGCSStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}
