// Package r2 uploads objects to Cloudflare R2 through its S3-compatible API.
package r2

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultCacheControl marks content-addressed objects as immutable.
const DefaultCacheControl = "public, max-age=31536000, immutable"

// Config captures the parameters required to reach an R2 bucket.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Endpoint overrides {AccountID}.r2.cloudflarestorage.com. A scheme, if
	// present, selects TLS.
	Endpoint     string
	CacheControl string
}

// ObjectStore implements pipeline.ObjectStore on R2.
type ObjectStore struct {
	client       *miniogo.Client
	bucket       string
	cacheControl string
}

// New creates an R2-backed object store.
func New(cfg Config) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("r2 access key id and secret access key are required")
	}
	host, secure, err := Endpoint(cfg)
	if err != nil {
		return nil, err
	}
	client, err := miniogo.New(host, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create r2 client: %w", err)
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, cacheControl: cacheControl}, nil
}

// Endpoint resolves the host and TLS setting from cfg.
func Endpoint(cfg Config) (string, bool, error) {
	raw := strings.TrimSpace(cfg.Endpoint)
	if raw == "" {
		if cfg.AccountID == "" {
			return "", false, fmt.Errorf("r2 account id or endpoint is required")
		}
		return cfg.AccountID + ".r2.cloudflarestorage.com", true, nil
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid r2 endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid r2 endpoint %q: missing host", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

// PutFile uploads a local file under key.
func (s *ObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: s.cacheControl,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present in the bucket.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, miniogo.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	// Cancelling stops the listing goroutine on early return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
