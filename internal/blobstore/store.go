package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotConfigured is returned when no bucket has been configured.
	ErrNotConfigured = errors.New("attachment store not configured")

	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrThrottled          = errors.New("request throttled")
	ErrUnavailable        = errors.New("store unavailable")
)

// UploadError wraps a failed upload with the object key. Unwrap yields one of
// the sentinel errors above when the S3 error code is recognised.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Object describes an uploaded attachment.
type Object struct {
	Key    string
	URL    string
	Size   int64
	Format string
}

// Putter is the subset of the S3 client used for uploads.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads attachments to a bucket.
type Store struct {
	client  Putter
	bucket  string
	folder  string
	baseURL string
}

// New creates a Store backed by the AWS SDK. An empty bucket returns
// ErrNotConfigured so callers can run without an attachment store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	cfg.Region = awsCfg.Region
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Store around an existing client.
func NewWithClient(client Putter, cfg Config) *Store {
	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = DefaultFolder
	}
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		folder:  folder,
		baseURL: baseURL(cfg),
	}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// baseURL is where objects are publicly reachable, without trailing slash.
func baseURL(cfg Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "" && cfg.ForcePathStyle:
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	case cfg.Endpoint != "":
		ep := strings.TrimRight(cfg.Endpoint, "/")
		if scheme, host, ok := strings.Cut(ep, "://"); ok {
			return scheme + "://" + cfg.Bucket + "." + host
		}
		return "https://" + cfg.Bucket + "." + ep
	}
	region := cfg.Region
	if region == "" {
		region = DefaultAWSRegion
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
}

// Upload stores data under a content-addressed key derived from name.
func (s *Store) Upload(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	key := Key(s.folder, name, data)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Object{}, wrapError(key, err)
	}

	return Object{
		Key:    key,
		URL:    s.URL(key),
		Size:   int64(len(data)),
		Format: strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
	}, nil
}

// URL returns the public URL of key.
func (s *Store) URL(key string) string {
	return s.baseURL + "/" + key
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds folder/<name>_<hash><ext>. The content hash keeps distinct
// attachments with the same name from overwriting each other.
func Key(folder, name string, data []byte) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))
	stem = strings.Trim(unsafeKeyChars.ReplaceAllString(stem, "_"), "_")
	if stem == "" {
		stem = "attachment"
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/%s_%s%s", strings.Trim(folder, "/"), stem, hex.EncodeToString(sum[:6]), ext)
}

func wrapError(key string, err error) error {
	wrapped := &UploadError{Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = ErrUnavailable
		}
	}
	return wrapped
}
