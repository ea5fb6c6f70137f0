// Package gcs uploads objects to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// DefaultCacheControl marks content-addressed objects as immutable.
const DefaultCacheControl = "public, max-age=31536000, immutable"

// Config selects the destination bucket.
type Config struct {
	Bucket       string
	CacheControl string
}

// ObjectStore implements pipeline.ObjectStore on GCS.
type ObjectStore struct {
	client       *storage.Client
	bucket       string
	cacheControl string
	logger       *zap.Logger
}

// New wraps an existing client. Authentication is the caller's concern; the
// app builds clients with Application Default Credentials.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, cacheControl: cacheControl, logger: logger}, nil
}

// PutFile uploads a local file under key.
func (s *ObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	// #nosec G304 -- callers pass paths resolved by the content store.
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("failed to close upload source", zap.String("path", localPath), zap.Error(cerr))
		}
	}()

	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = s.cacheControl

	if _, err := io.Copy(wc, f); err != nil {
		// Close still releases the upload goroutine; the copy error wins.
		if cerr := wc.Close(); cerr != nil {
			s.logger.Warn("failed to close gcs writer after write failure", zap.Error(err), zap.NamedError("close_error", cerr))
		}
		return fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gcs writer for %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present in the bucket.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat gcs object %s: %w", key, err)
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs objects under %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
}
