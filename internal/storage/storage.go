// Package storage puts media where the messaging platform can fetch it back.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hkbot/internal/config"
	"hkbot/internal/domain"
)

// New builds the object store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.ObjectStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewS3(S3Config{
			Client:        s3.NewFromConfig(awsCfg),
			Bucket:        cfg.S3Bucket,
			Region:        awsCfg.Region,
			Prefix:        cfg.S3Prefix,
			PublicBaseURL: cfg.PublicBaseURL,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Local writes objects under a directory. Public URLs are built from
// baseURL; the HTTP server exposes the directory under /media/.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the root directory objects are written to.
func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if l.baseURL == "" {
		return "file://" + dst, nil
	}
	return l.baseURL + "/" + escapeKey(key), nil
}

// s3API is the part of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Client        s3API
	Bucket        string
	Region        string
	Prefix        string
	PublicBaseURL string // e.g. a CloudFront domain; virtual-hosted bucket URL otherwise
	Logger        *slog.Logger
}

type S3 struct {
	api     s3API
	bucket  string
	region  string
	prefix  string
	baseURL string
	logger  *slog.Logger
}

func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3: client must not be nil")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3{
		api:     cfg.Client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:  cfg.Logger,
	}, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	s.logger.Debug("uploaded object", "bucket", s.bucket, "key", key, "bytes", len(data))

	if s.baseURL != "" {
		return s.baseURL + "/" + escapeKey(key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escapeKey(key)), nil
}

func cleanKey(key string) (string, error) {
	key = path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("storage: empty object key")
	}
	return key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
