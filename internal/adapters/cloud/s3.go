// Package cloud lists objects in cloud buckets for the cloud agent.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// S3Store lists objects of one S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

var _ ports.ObjectStore = (*S3Store)(nil)

// NewS3Store builds a client from cfg. Static keys are used when set,
// otherwise the default AWS credential chain. endpoint overrides the S3
// endpoint (MinIO, LocalStack) and switches to path-style addressing.
func NewS3Store(ctx context.Context, cfg domain.CloudConfig, endpoint string) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", domain.ErrNotConfigured)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3Store) Location() string {
	return fmt.Sprintf("S3 bucket '%s'", s.bucket)
}

// ListObjects returns up to max objects under prefix.
func (s *S3Store) ListObjects(ctx context.Context, prefix string, max int) ([]domain.ObjectInfo, error) {
	if max <= 0 {
		max = 10
	}
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(max)),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("list s3 objects: %w", err)
	}

	objects := make([]domain.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		objects = append(objects, domain.ObjectInfo{
			Key:  aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		})
	}
	return objects, nil
}
