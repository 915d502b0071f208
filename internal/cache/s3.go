package cache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects the bucket service behind s3:// URLs.
type S3Config struct {
	Region          string
	Endpoint        string // S3-compatible endpoint (R2, MinIO); empty for AWS
	AccessKeyID     string // static credentials; empty uses the default chain
	SecretAccessKey string
}

// S3Downloader fetches s3://bucket/key URLs, typically from a mirror of the
// upstream tarballs.
type S3Downloader struct {
	client *s3.Client
}

// NewS3Downloader builds a client from cfg and the ambient AWS configuration.
func NewS3Downloader(ctx context.Context, cfg S3Config) (*S3Downloader, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Downloader{client: client}, nil
}

func (d *S3Downloader) Download(ctx context.Context, rawURL string, w io.Writer) error {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return err
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	_, err = io.Copy(w, out.Body)
	return err
}

func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 URL: %q", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 URL %q has no object key", rawURL)
	}
	return u.Host, key, nil
}
