package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // key prefix for archived exports, e.g. "exports/"
}

// Enabled reports whether enough is configured to upload
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.Region != ""
}

// objectPutter is the slice of the S3 API the archiver needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver copies export files to S3-compatible storage
type S3Archiver struct {
	client objectPutter
	cfg    S3Config
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
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
	return newS3Archiver(client, cfg), nil
}

func newS3Archiver(client objectPutter, cfg S3Config) *S3Archiver {
	return &S3Archiver{client: client, cfg: cfg}
}

// Upload writes data under the configured prefix and returns the object key
func (a *S3Archiver) Upload(ctx context.Context, name string, data io.Reader, contentType string) (string, error) {
	key := path.Join(a.cfg.Prefix, name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// UploadFile archives a local export file and returns its public URL
func (a *S3Archiver) UploadFile(ctx context.Context, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key, err := a.Upload(ctx, path.Base(filePath), f, contentType)
	if err != nil {
		return "", err
	}
	return a.PublicURL(key), nil
}

// PublicURL returns the public URL for an object key
func (a *S3Archiver) PublicURL(key string) string {
	if a.cfg.Endpoint != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(a.cfg.Endpoint, "https://"), "http://")
		if strings.Contains(host, "digitaloceanspaces.com") {
			// DO Spaces: https://{bucket}.{region}.digitaloceanspaces.com/{key}
			return fmt.Sprintf("https://%s.%s/%s", a.cfg.Bucket, host, key)
		}
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(a.cfg.Endpoint, "/"), a.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.cfg.Bucket, a.cfg.Region, key)
}
