package mirror

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lessonlog/internal/backup"
	"lessonlog/internal/config"
)

// S3Mirror uploads snapshots to an S3 bucket (or any S3-compatible endpoint)
// with the multipart upload manager, so snapshots stream without being
// buffered whole.
type S3Mirror struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Mirror loads AWS configuration and creates the mirror. Static
// credentials from the config take precedence over the default chain.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for s3 mirror")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Mirror{
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (m *S3Mirror) Name() string {
	return "s3://" + path.Join(m.bucket, m.prefix)
}

// Put uploads r as <prefix><name>.
func (m *S3Mirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.prefix + name),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := m.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading %s to s3 bucket %s: %w", name, m.bucket, err)
	}
	return nil
}

// Compile-time check that S3Mirror implements backup.Mirror interface
var _ backup.Mirror = (*S3Mirror)(nil)
