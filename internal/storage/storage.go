// Package storage removes card images from the S3 compatible bucket the
// backend hands out upload targets for.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Endpoint  string // empty uses the AWS endpoint of Region
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Bucket struct {
	client *s3.Client
	bucket string
}

func New(ctx context.Context, c Config) (*Bucket, error) {
	if c.Bucket == "" {
		return nil, errors.New("storage bucket is not set")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Bucket{client: client, bucket: c.Bucket}, nil
}

// Key turns a card image path into an object key.
func Key(imagePath string) string {
	return strings.TrimPrefix(imagePath, "/")
}

// DeleteObject removes the object behind imagePath. Deleting a missing
// object succeeds.
func (b *Bucket) DeleteObject(ctx context.Context, imagePath string) error {
	key := Key(imagePath)
	if key == "" {
		return errors.New("empty object key")
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *Bucket) Name() string {
	return b.bucket
}
