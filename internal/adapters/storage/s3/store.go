// Package s3 stores hot-memory snapshots and archive batches in an
// S3-compatible bucket (AWS S3, Cloudflare R2, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/calliope-ai/calliope/internal/domain"
)

type Store struct {
	client *s3.Client
	bucket string
}

// NewStore builds a blob store on the given bucket. endpoint is optional;
// set it for R2 or MinIO style deployments.
func NewStore(ctx context.Context, bucket, region, endpoint string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required for s3 store")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 PutObject %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3 GetObject %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 GetObject %s read: %w", key, err)
	}
	return data, nil
}
