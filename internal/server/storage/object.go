package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/clipdrop/internal/common"
)

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// s3API is the subset of *s3.Client the backend calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// ObjectConfig configures an S3-compatible backend (AWS, MinIO,
// DigitalOcean Spaces). Empty AccessKey falls back to the default AWS
// credential chain.
type ObjectConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
}

// ObjectBackend stores blobs as objects named Prefix+key in one bucket.
type ObjectBackend struct {
	client  s3API
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewObjectBackend(ctx context.Context, oc ObjectConfig) (*ObjectBackend, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(oc.Region),
		config.WithRetryMaxAttempts(3),
	}
	if oc.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(oc.AccessKey, oc.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", common.ErrStorageUnavailable, err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if oc.Endpoint != "" {
			o.BaseEndpoint = aws.String(oc.Endpoint)
			// MinIO and most S3-compatible stores want path-style addressing
			o.UsePathStyle = true
		}
	})

	return newObjectBackend(client, oc.Bucket, oc.Prefix, oc.Timeout), nil
}

func newObjectBackend(client s3API, bucket, prefix string, timeout time.Duration) *ObjectBackend {
	return &ObjectBackend{client: client, bucket: bucket, prefix: prefix, timeout: timeout}
}

func (b *ObjectBackend) objectKey(key string) (*string, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return aws.String(b.prefix + key), nil
}

func (b *ObjectBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Ping verifies the bucket is reachable with the configured credentials.
func (b *ObjectBackend) Ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("%w: head bucket %s: %w", common.ErrStorageUnavailable, b.bucket, err)
	}
	return nil
}

func (b *ObjectBackend) Put(ctx context.Context, key string, data []byte) error {
	k, err := b.objectKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           k,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return classify("put", key, err)
	}
	return nil
}

func (b *ObjectBackend) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: k})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrStorageUnavailable, key, err)
	}
	return data, nil
}

func (b *ObjectBackend) Delete(ctx context.Context, key string) error {
	k, err := b.objectKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: k}); err != nil {
		err = classify("delete", key, err)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (b *ObjectBackend) Exists(ctx context.Context, key string) (bool, error) {
	k, err := b.objectKey(key)
	if err != nil {
		return false, err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: k}); err != nil {
		err = classify("head", key, err)
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// classify maps SDK errors onto the backend-neutral sentinels. Only an
// explicit "no such key" answer counts as not found; timeouts, auth and
// network failures are all unavailability.
func classify(op, key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", common.ErrorNotFound, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
	}
	return fmt.Errorf("%w: %s %s: %w", common.ErrStorageUnavailable, op, key, err)
}
