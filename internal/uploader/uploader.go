// Package uploader pushes derived image files to a remote object store with
// bounded concurrency and retries.
package uploader

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/geohints-scraper/internal/metrics"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/retry"
)

// File is one local file and its destination key.
type File struct {
	LocalPath string
	Key       string
}

// Result describes the outcome of one upload.
type Result struct {
	LocalPath string
	Key       string
	Success   bool
	Skipped   bool
	Attempts  int
	Err       error
}

// Stats aggregates a batch.
type Stats struct {
	Uploaded int
	Skipped  int
	Failed   int
	Total    int
}

// Config controls batch behaviour.
type Config struct {
	Concurrency int
	ContentType string
	DryRun      bool
}

// Uploader wraps an ObjectStore with retries and a worker pool.
type Uploader struct {
	store    pipeline.ObjectStore
	policy   *retry.Policy
	cfg      Config
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// New builds an uploader.
func New(store pipeline.ObjectStore, policy *retry.Policy, cfg Config, recorder *metrics.Recorder, logger *zap.Logger) *Uploader {
	if policy == nil {
		policy = retry.New(3, 0, 0)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/octet-stream"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, policy: policy, cfg: cfg, recorder: recorder, logger: logger}
}

// Upload stores a single file. It never returns an error; failures are
// reported through Result.Err as *pipeline.UploadError.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) Result {
	res := Result{LocalPath: localPath, Key: key}

	if _, err := os.Stat(localPath); err != nil {
		res.Skipped = true
		res.Err = &pipeline.FilesystemError{Path: localPath, Op: pipeline.OpRead, Err: err}
		u.logger.Warn("local file missing, skipping upload", zap.String("path", localPath), zap.String("key", key))
		u.recorder.ObserveUpload(metrics.OutcomeSkipped)
		return res
	}

	if u.cfg.DryRun {
		u.logger.Info("dry run: would upload", zap.String("key", key), zap.String("path", localPath))
		res.Success = true
		u.recorder.ObserveUpload(metrics.OutcomeSuccess)
		return res
	}

	attempts, err := u.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		putErr := u.store.PutFile(ctx, key, localPath, u.cfg.ContentType)
		if putErr != nil && attempt < u.policy.MaxRetries {
			u.logger.Debug("upload attempt failed, retrying",
				zap.String("key", key), zap.Int("attempt", attempt+1), zap.Error(putErr))
		}
		return putErr
	})
	res.Attempts = attempts
	if err != nil {
		res.Err = &pipeline.UploadError{Key: key, Attempts: attempts, Err: err}
		u.logger.Warn("upload failed", zap.String("key", key), zap.Int("attempts", attempts), zap.Error(err))
		u.recorder.ObserveUpload(metrics.OutcomeFailed)
		return res
	}
	res.Success = true
	u.recorder.ObserveUpload(metrics.OutcomeSuccess)
	return res
}

// UploadMany uploads files concurrently and returns the aggregate counts.
func (u *Uploader) UploadMany(ctx context.Context, files []File) Stats {
	return u.UploadManyFunc(ctx, files, nil)
}

// UploadManyFunc is UploadMany with a per-file callback. The callback is
// invoked from worker goroutines but never concurrently.
func (u *Uploader) UploadManyFunc(ctx context.Context, files []File, onResult func(Result)) Stats {
	stats := Stats{Total: len(files)}
	if len(files) == 0 {
		return stats
	}

	interval := max(10, len(files)/20)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			res := u.Upload(gctx, f.LocalPath, f.Key)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Success:
				stats.Uploaded++
			case res.Skipped:
				stats.Skipped++
			default:
				stats.Failed++
			}
			done++
			if onResult != nil {
				onResult(res)
			}
			if done%interval == 0 || done == len(files) {
				u.logger.Info("progress",
					zap.Int("processed", done),
					zap.Int("total", len(files)),
					zap.Int("percent", done*100/len(files)),
					zap.Int("uploaded", stats.Uploaded),
					zap.Int("skipped", stats.Skipped),
					zap.Int("failed", stats.Failed),
				)
			}
			return nil
		})
	}
	// Workers never return errors; per-file failures live in the stats.
	_ = g.Wait()
	return stats
}

// Exists reports whether key is present remotely.
func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := u.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return ok, nil
}

// List returns the remote keys under prefix.
func (u *Uploader) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := u.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return keys, nil
}
