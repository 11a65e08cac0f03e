package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/kenneth/media-resource-loader/internal/config"
)

// ErrNotFound is returned when the bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// Client is the read-only object store interface used by the S3 byte source.
type Client interface {
	// GetObjectRange returns the bytes [start, end] (inclusive) of an object.
	GetObjectRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
	// HeadObject returns object information without the body.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// ObjectInfo holds information about an S3 object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// s3Client implements the Client interface using AWS SDK v2.
type s3Client struct {
	client *s3.Client
	config *config.BackendConfig
}

// NewClient creates a new S3 backend client.
func NewClient(ctx context.Context, cfg *config.BackendConfig) (Client, error) {
	endpoint := cfg.Endpoint
	region := cfg.Region
	if cfg.Provider != "" && cfg.Provider != "s3" {
		var err error
		endpoint, region, err = ValidateProviderConfig(cfg.Endpoint, cfg.Provider, cfg.Region)
		if err != nil {
			return nil, err
		}
	}
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	pathStyle := cfg.UsePathStyle || RequiresPathStyleAddressing(cfg.Provider)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" && cfg.Provider != "aws" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return &s3Client{
		client: client,
		config: cfg,
	}, nil
}

// GetObjectRange retrieves a byte range of an object.
func (c *s3Client) GetObjectRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	}

	result, err := c.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s range %d-%d: %w", bucket, key, start, end, classifyError(err))
	}
	return result.Body, nil
}

// HeadObject retrieves object information without the body.
func (c *s3Client) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	result, err := c.client.HeadObject(ctx, input)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to head object %s/%s: %w", bucket, key, classifyError(err))
	}

	return ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        aws.ToString(result.ETag),
	}, nil
}

// classifyError maps well-known S3 API error codes onto package sentinels
// while keeping the original error in the chain.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}
	return err
}
