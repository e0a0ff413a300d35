// Package snapshot keeps the SQLite state file in S3 between runs on ephemeral runners.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Config selects the object holding the snapshot. Credentials come from the
// standard AWS chain.
type Config struct {
	Bucket       string
	Key          string
	Region       string
	Profile      string
	Endpoint     string
	UsePathStyle bool
}

// ObjectStore is the subset of S3 used for snapshots.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader) error
}

// S3 wraps the AWS SDK client.
type S3 struct {
	client *s3.Client
}

// NewS3 loads the default AWS configuration with optional overrides.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: c}, nil
}

// Get fetches an object body. Caller must Close it.
func (s *S3) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Put uploads body to bucket/key.
func (s *S3) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	return err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Snapshotter restores the state file before a run and uploads it afterwards.
type Snapshotter struct {
	store  ObjectStore
	bucket string
	key    string
	path   string
	logger *slog.Logger
}

// New binds a snapshot object to a local file path.
func New(store ObjectStore, bucket, key, path string, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = filepath.Base(path)
	}
	return &Snapshotter{
		store:  store,
		bucket: bucket,
		key:    key,
		path:   path,
		logger: logger.With("component", "snapshot", "bucket", bucket, "key", key),
	}
}

// Restore downloads the snapshot over the local file. A missing object is a
// cold start and reports false without error.
func (s *Snapshotter) Restore(ctx context.Context) (bool, error) {
	body, err := s.store.Get(ctx, s.bucket, s.key)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Info("no snapshot found, starting with empty state")
			return false, nil
		}
		return false, fmt.Errorf("download snapshot: %w", err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return false, fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}

	// Stale WAL files from a previous process would be replayed over the restored file.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.path + suffix)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return false, fmt.Errorf("install snapshot: %w", err)
	}

	s.logger.Info("snapshot restored", "bytes", n)
	return true, nil
}

// Upload pushes the local file. The database must be closed (or checkpointed) first.
func (s *Snapshotter) Upload(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	if err := s.store.Put(ctx, s.bucket, s.key, f); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	s.logger.Info("snapshot uploaded")
	return nil
}
