// Package objstore archives release artifacts into S3-compatible object
// storage (MinIO in the homelab case) through the AWS SDK with a custom
// endpoint.
package objstore

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
)

// Client implements imagesync.ObjectStore on an S3-compatible endpoint.
type Client struct {
	s3 S3API
}

// S3API is the slice of the S3 client the archiver needs; tests implement it
// directly instead of spinning up storage.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config carries the out-of-band credentials and endpoint of the storage.
type Config struct {
	// Endpoint is the S3-compatible endpoint URL, e.g. "https://minio.example.com:9000".
	Endpoint  string
	AccessKey string
	SecretKey string
	// Region is accepted by MinIO as-is; defaults to us-east-1.
	Region string
}

// New builds a Client for an S3-compatible endpoint. Path-style addressing is
// forced because MinIO does not serve virtual-hosted buckets by default.
func New(ctx context.Context, conf Config) (*Client, error) {
	if conf.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint must be set")
	}

	region := conf.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading storage config: %w", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(conf.Endpoint)
		o.UsePathStyle = true
	})

	return &Client{s3: api}, nil
}

// NewWithAPI wires an existing S3 API implementation, for tests.
func NewWithAPI(api S3API) *Client {
	return &Client{s3: api}
}

// Exists reports whether bucket/key is already archived.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// Put uploads body as bucket/key, creating the bucket on first use.
func (c *Client) Put(ctx context.Context, bucket, key string, body io.Reader, length int64) error {
	if err := c.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: length,
	})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *Client) ensureBucket(ctx context.Context, bucket string) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking bucket %s: %w", bucket, err)
	}

	if _, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
