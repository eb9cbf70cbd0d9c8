// Package storage keeps user uploads in an S3-compatible bucket.
//
// Uploads are size-capped and their content type is sniffed from the bytes,
// never taken from the client. When no bucket is configured the service
// reports ErrDisabled for every call.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/huntiezz/bytehackv3-sub001/cmd/identity/ids"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrDisabled        = errors.New("storage: backend is not configured")
	ErrInvalidInput    = errors.New("storage: invalid input")
	ErrTooLarge        = errors.New("storage: file too large")
	ErrUnsupportedType = errors.New("storage: unsupported file type")
	ErrNotFound        = errors.New("storage: object not found")
)

// Config selects the bucket and upload policy.
type Config struct {
	Bucket          string   `mapstructure:"bucket"`
	Region          string   `mapstructure:"region"`
	Endpoint        string   `mapstructure:"endpoint"`
	AccessKeyID     string   `mapstructure:"access_key_id"`
	SecretAccessKey string   `mapstructure:"secret_access_key"`
	UsePathStyle    bool     `mapstructure:"use_path_style"`
	MaxUploadBytes  int64    `mapstructure:"max_upload_bytes"`
	AllowedTypes    []string `mapstructure:"allowed_types"`
}

// DefaultConfig returns an unconfigured (disabled) bucket with the default policy.
func DefaultConfig() Config {
	return Config{
		Region:         "us-east-1",
		MaxUploadBytes: 10 << 20,
		AllowedTypes: []string{
			"image/png", "image/jpeg", "image/gif", "image/webp",
			"application/zip", "application/x-7z-compressed", "application/pdf", "text/plain",
		},
	}
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

// ObjectAPI is the subset of *s3.Client the service calls.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// NewS3Client builds an S3 client from cfg. Static keys are used when set;
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Object describes a stored file.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Service uploads and streams files.
type Service struct {
	api     ObjectAPI
	bucket  string
	max     int64
	allowed []string
	log     *slog.Logger
}

// New constructs a Service. api may be nil when cfg is not Enabled.
func New(api ObjectAPI, cfg Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Enabled() && api == nil {
		return nil, ErrInvalidInput
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultConfig().AllowedTypes
	}
	s := &Service{
		bucket:  strings.TrimSpace(cfg.Bucket),
		max:     cfg.MaxUploadBytes,
		allowed: cfg.AllowedTypes,
		log:     log,
	}
	if cfg.Enabled() {
		s.api = api
	}
	return s, nil
}

// Enabled reports whether uploads are possible.
func (s *Service) Enabled() bool { return s.api != nil }

// MaxUploadBytes is the upload cap.
func (s *Service) MaxUploadBytes() int64 { return s.max }

// Upload stores body under a fresh key owned by ownerID.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, body io.Reader) (Object, error) {
	if !s.Enabled() {
		return Object{}, ErrDisabled
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || body == nil {
		return Object{}, ErrInvalidInput
	}

	data, err := io.ReadAll(io.LimitReader(body, s.max+1))
	if err != nil {
		return Object{}, err
	}
	if len(data) == 0 {
		return Object{}, ErrInvalidInput
	}
	if int64(len(data)) > s.max {
		return Object{}, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !s.isAllowed(mt) {
		s.log.Info("storage.upload.rejected", "owner_id", ownerID, "mime", mt.String())
		return Object{}, ErrUnsupportedType
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Object{}, err
	}
	key := path.Join("uploads", ownerID, strings.ToLower(id)+mt.Extension())
	ctype := mt.String()

	if _, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentLength:      aws.Int64(int64(len(data))),
		ContentType:        aws.String(ctype),
		ContentDisposition: aws.String(disposition(filename)),
	}); err != nil {
		s.log.Error("storage.upload.fail", "owner_id", ownerID, "key", key, "err", err)
		return Object{}, err
	}

	s.log.Info("storage.upload.ok", "owner_id", ownerID, "key", key, "bytes", len(data))
	return Object{Key: key, ContentType: ctype, Size: int64(len(data)), UploadedAt: now}, nil
}

func (s *Service) isAllowed(mt *mimetype.MIME) bool {
	for _, a := range s.allowed {
		if mt.Is(a) {
			return true
		}
	}
	return false
}

// Download opens key for streaming. The caller closes the reader.
func (s *Service) Download(ctx context.Context, key string) (Object, io.ReadCloser, error) {
	if !s.Enabled() {
		return Object{}, nil, ErrDisabled
	}
	key = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if !strings.HasPrefix(key, "uploads/") {
		return Object{}, nil, ErrNotFound
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Object{}, nil, ErrNotFound
		}
		return Object{}, nil, err
	}

	obj := Object{Key: key, ContentType: aws.ToString(out.ContentType), Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		obj.UploadedAt = *out.LastModified
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, out.Body, nil
}

// Ping checks the bucket is reachable. A disabled service is always healthy.
func (s *Service) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func disposition(filename string) string {
	name := path.Base(strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/")))
	var b strings.Builder
	for _, r := range name {
		if r >= 0x20 && r < 0x7f && r != '"' && r != ';' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" || clean == "." || clean == "/" {
		return "attachment"
	}
	return `attachment; filename="` + clean + `"`
}
