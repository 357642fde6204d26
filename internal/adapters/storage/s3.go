package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gridflow/silogrid/internal/domain"
)

// S3Store implements ObjectStore against the archive bucket using the
// native S3 API. Partial reads use ranged GetObject calls.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds S3 configuration. The archive bucket is publicly
// readable, so Anonymous is the usual mode; explicit credentials are
// supported for mirrors that need them.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	Anonymous       bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates a new S3 object store adapter.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))

	switch {
	case cfg.Anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ReadRange reads length bytes starting at off with a ranged GetObject.
func (s *S3Store) ReadRange(ctx context.Context, key string, off, length int64) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	})
	if err != nil {
		return nil, s.mapError("read_range", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Operation: "read_range", Key: key, Err: err}
	}
	if int64(len(body)) > length {
		body = body[:length]
	}
	return body, nil
}

// Size returns the object size from a HeadObject call.
func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return 0, s.mapError("head", key, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

// Fetch returns a reader over the whole object.
func (s *S3Store) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, s.mapError("fetch", key, err)
	}
	return resp.Body, nil
}

// Exists checks if an object exists.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// mapError translates SDK errors into the domain taxonomy.
func (s *S3Store) mapError(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", key, domain.ErrObjectNotFound)
	}
	return &domain.TransportError{Operation: op, Key: key, Err: err}
}

// fullKey returns the full S3 key including prefix.
func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + strings.TrimPrefix(key, "/")
}
