package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Options configures the remote object-store backend. Any S3-compatible
// endpoint works (MinIO, Supabase Storage's S3 gateway, AWS).
type S3Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	SignedURLs    bool
	SignedURLTTL  time.Duration
}

type S3 struct {
	client *minio.Client
	opts   S3Options
	logger *zap.Logger
}

func NewS3(ctx context.Context, opts S3Options, log *zap.Logger) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing object store client: %w", err)
	}

	s := &S3{client: client, opts: opts, logger: log}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info("object store client initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("bucket", opts.Bucket),
		zap.Bool("signed_urls", opts.SignedURLs),
	)
	return s, nil
}

func (s *S3) Backend() string { return "s3" }

func (s *S3) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.opts.Bucket)
	if err != nil {
		return fmt.Errorf("error checking if bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.opts.Bucket, minio.MakeBucketOptions{Region: s.opts.Region}); err != nil {
		return fmt.Errorf("error creating bucket: %w", err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.opts.Bucket))
	return nil
}

func (s *S3) Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	if exists {
		return "", &Error{Op: "write", Key: key, Err: ErrObjectExists}
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.opts.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	return s.urlFor(ctx, key)
}

func (s *S3) URL(ctx context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &Error{Op: "url", Key: key, Err: err}
	}
	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", &Error{Op: "url", Key: key, Err: err}
	}
	if !exists {
		return "", &Error{Op: "url", Key: key, Err: ErrNotFound}
	}
	return s.urlFor(ctx, key)
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	if err := s.client.RemoveObject(ctx, s.opts.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *S3) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.opts.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, &Error{Op: "list", Err: info.Err}
		}
		objects = append(objects, Object{
			Key:       info.Key,
			Size:      info.Size,
			CreatedAt: info.LastModified,
		})
	}
	return objects, nil
}

func (s *S3) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.opts.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

func (s *S3) urlFor(ctx context.Context, key string) (string, error) {
	if s.opts.SignedURLs {
		u, err := s.client.PresignedGetObject(ctx, s.opts.Bucket, key, s.opts.SignedURLTTL, url.Values{})
		if err != nil {
			return "", &Error{Op: "url", Key: key, Err: err}
		}
		return u.String(), nil
	}

	base := s.opts.PublicBaseURL
	if base == "" {
		base = s.client.EndpointURL().String()
	}
	return publicObjectURL(base, s.opts.Bucket, key), nil
}

func publicObjectURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
