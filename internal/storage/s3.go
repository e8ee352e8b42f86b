package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// ObjectGetter is the part of the S3 API the store needs
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config selects region, endpoint and credentials of the S3 client
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO or LocalStack
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store downloads objects from S3
type S3Store struct {
	client ObjectGetter
	dir    string
	logger *logger.Logger
}

// NewS3Store wraps an existing S3 client
func NewS3Store(client ObjectGetter, dir string, log *logger.Logger) *S3Store {
	if log == nil {
		log = logger.Get()
	}
	return &S3Store{
		client: client,
		dir:    dir,
		logger: log.WithFields(map[string]interface{}{"component": "s3_store"}),
	}
}

// NewS3Client builds an S3 client from the default AWS credential chain,
// or from static credentials when both keys are given.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Download fetches bucket/key into the download directory
func (s *S3Store) Download(ctx context.Context, bucket, key string) (string, error) {
	dst, err := localPath(s.dir, key)
	if err != nil {
		return "", err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := writeFile(dst, out.Body); err != nil {
		return "", err
	}

	s.logger.Debug("Downloaded object", map[string]interface{}{
		"bucket": bucket,
		"key":    key,
		"path":   dst,
	})
	return dst, nil
}
