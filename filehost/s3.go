package filehost

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	appconfig "demark/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// s3Host stages uploads in an S3-compatible bucket (DO Spaces works too)
// and hands out presigned GET URLs for the remote API to fetch.
type s3Host struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	urlTTL  time.Duration
}

func newS3Host(cfg appconfig.FileHostConfig) (*s3Host, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion(cfg.Region),
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Host{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		urlTTL:  cfg.URLTTL,
	}, nil
}

func (h *s3Host) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	key := fmt.Sprintf("uploads/%s%s", uuid.New().String(), filepath.Ext(filename))

	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to bucket: %v", err)
	}

	presigned, err := h.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(h.urlTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload URL: %v", err)
	}

	return presigned.URL, nil
}
