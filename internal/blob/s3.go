package blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes an S3 compatible bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	AccessKey string
	SecretKey string
	Prefix    string
	URLBase   string
}

// PutObjectAPI is the part of *s3.Client the store needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads binaries to a bucket.
type S3Store struct {
	api     PutObjectAPI
	bucket  string
	prefix  string
	urlBase string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3 client from static credentials when given, falling
// back to the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: empty bucket")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithAPI(client, cfg), nil
}

// NewS3StoreWithAPI wraps an existing client.
func NewS3StoreWithAPI(api PutObjectAPI, cfg S3Config) *S3Store {
	return &S3Store{api: api, bucket: cfg.Bucket, prefix: cfg.Prefix, urlBase: cfg.URLBase}
}

func (s *S3Store) objectKey(key Key) string {
	return path.Join(s.prefix, key.Name())
}

// Path returns an s3:// URI.
func (s *S3Store) Path(key Key) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

// URL joins the public base with the object key.
func (s *S3Store) URL(key Key) (string, bool) {
	if s.urlBase == "" {
		return "", false
	}
	return joinURL(s.urlBase, s.objectKey(key)), true
}

// Save uploads r as one object.
func (s *S3Store) Save(ctx context.Context, r io.Reader, key Key) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   r,
	}
	if key.ContentType != "" {
		in.ContentType = aws.String(key.ContentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put %s: %w", s.objectKey(key), err)
	}
	return s.Path(key), nil
}
