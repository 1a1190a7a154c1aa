package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3pkg "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	errs "github.com/jmgilman/go/errors"
)

// S3 serves s3://bucket/key image sources.
type S3 struct {
	client *s3pkg.Client
}

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	AccessKeySecret string
}

// New uses the default AWS configuration chain (environment, shared
// configuration files, instance metadata), overridden by the non-empty
// fields of cfg.
func New(ctx context.Context, cfg *Config) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3pkg.Options)

	// Custom endpoints (MinIO, LocalStack, etc.) usually
	// don't support virtual-hosted-style bucket addressing
	if cfg.Endpoint != "" {
		if _, err := url.Parse(cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("invalid S3 endpoint %q: %w", cfg.Endpoint, err)
		}

		clientOpts = append(clientOpts, func(options *s3pkg.Options) {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
			options.UsePathStyle = true
		})
	}

	return &S3{
		client: s3pkg.NewFromConfig(awsConfig, clientOpts...),
	}, nil
}

func (s3 *S3) Client() *s3pkg.Client {
	return s3.client
}

func (s3 *S3) GetObject(ctx context.Context, bucket string, key string) (io.ReadCloser, error) {
	result, err := s3.client.GetObject(ctx, &s3pkg.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertErr(err)
	}

	return result.Body, nil
}

func convertErr(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return errs.Wrap(err, errs.CodeNotFound, "S3 object not found")
	}

	var apiErr smithy.APIError

	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return errs.Wrap(err, errs.CodeForbidden, "access to S3 object denied")
		}
	}

	return err
}
