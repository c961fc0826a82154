package photo

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds settings for an S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for R2, Spaces, MinIO
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // optional, overrides the derived object URL
	Prefix          string
}

// S3Mirror uploads photos to a bucket and links to them there.
type S3Mirror struct {
	client *s3.Client
	cfg    S3Config
}

var _ Mirror = (*S3Mirror)(nil)

// NewS3Mirror creates a mirror. Static keys are used when given, the
// default AWS credential chain otherwise.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "photos"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Mirror{client: client, cfg: cfg}, nil
}

func (m *S3Mirror) objectKey(key string) string {
	return strings.Trim(m.cfg.Prefix, "/") + "/" + key + ".jpg"
}

// Upload puts the file at path under the photo's object key.
func (m *S3Mirror) Upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(m.objectKey(key)),
		Body:        f,
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// URL returns the public URL of the photo's object.
func (m *S3Mirror) URL(key string) string {
	return objectURL(m.cfg, m.objectKey(key))
}

func objectURL(cfg S3Config, objectKey string) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/" + objectKey
	}
	if cfg.Endpoint != "" {
		if host, ok := strings.CutPrefix(cfg.Endpoint, "https://"); ok && strings.Contains(host, "digitaloceanspaces.com") {
			return fmt.Sprintf("https://%s.%s/%s", cfg.Bucket, host, objectKey)
		}
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket, objectKey)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", cfg.Bucket, cfg.Region, objectKey)
}
