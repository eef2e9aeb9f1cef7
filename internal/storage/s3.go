package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/takak2166/notionsnap/internal/models"
)

// R2Region is the region Cloudflare R2 expects in signatures
const R2Region = "auto"

// S3Store talks to an S3-compatible bucket
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a store for an S3 or R2 destination
func NewS3Store(dest models.StorageDestinationConfig) (*S3Store, error) {
	if dest.Bucket == "" {
		return nil, fmt.Errorf("destination %s has no bucket", dest.Name())
	}

	region := dest.Region
	if dest.Type == models.DestinationR2 {
		if dest.Endpoint == "" {
			return nil, fmt.Errorf("r2 destination %s requires an endpoint", dest.Name())
		}
		if region == "" {
			region = R2Region
		}
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:                     region,
		UsePathStyle:               dest.ForcePathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if dest.Credentials.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			dest.Credentials.AccessKeyID,
			dest.Credentials.SecretAccessKey,
			"",
		))
	}
	if dest.Endpoint != "" {
		opts.BaseEndpoint = aws.String(dest.Endpoint)
	}

	return &S3Store{client: s3.New(opts), bucket: dest.Bucket}, nil
}

// Write uploads data to path
func (s *S3Store) Write(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/gzip"),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, path, err)
	}
	return nil
}

// Read downloads the object at path
func (s *S3Store) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, path, err)
	}
	return data, nil
}

// Exists issues a HEAD request for path
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head s3://%s/%s: %w", s.bucket, path, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
