package storage

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds connection settings for the segment bucket
type S3Config struct {
	Bucket string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack)
	Endpoint     string
	UsePathStyle bool
	MaxRetries   int
}

// S3Uploader uploads finalized segments to an S3 bucket
type S3Uploader struct {
	client     *s3.Client
	bucket     string
	maxRetries int
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &S3Uploader{client: client, bucket: cfg.Bucket, maxRetries: maxRetries}, nil
}

// Upload puts the file at localPath under key
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return retryWithBackoff(ctx, u.maxRetries, 100*time.Millisecond, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        file,
			ContentType: aws.String("application/vnd.apache.arrow.stream"),
		})
		return err
	})
}

// retryWithBackoff runs op up to maxRetries+1 times, doubling the wait from
// base between attempts
func retryWithBackoff(ctx context.Context, maxRetries int, base time.Duration, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * base
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
