package worker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/telemetry"
	"github.com/JakeFAU/geohints-scraper/internal/uploader"
)

// BatchUploader uploads a set of files, reporting each result.
type BatchUploader interface {
	UploadManyFunc(ctx context.Context, files []uploader.File, onResult func(uploader.Result)) uploader.Stats
}

// PublishOptions selects entries to upload.
type PublishOptions struct {
	// Category limits the upload to one category when set.
	Category pipeline.Category
	DryRun   bool
	// Reset clears the uploaded flag of the selected entries first so they
	// are uploaded again.
	Reset bool
}

// PublishStats summarizes a publisher run.
type PublishStats struct {
	Entries  int
	Uploaded int
	Files    uploader.Stats
}

// Publisher uploads processed entries and records which ones made it.
type Publisher struct {
	store    pipeline.ContentStore
	uploader BatchUploader
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewPublisher builds a Publisher.
func NewPublisher(store pipeline.ContentStore, up BatchUploader, clock pipeline.Clock, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, uploader: up, clock: clock, logger: logger}
}

// Run uploads every file of the selected processed, not-yet-uploaded entries.
// An entry is marked uploaded only when all of its files succeeded. The
// manifest is written once at the end, never in dry-run mode.
func (p *Publisher) Run(ctx context.Context, opts PublishOptions) (stats PublishStats, err error) {
	manifest, err := p.store.ReadManifest(ctx)
	if err != nil {
		return PublishStats{}, fmt.Errorf("load manifest: %w", err)
	}

	if opts.Reset {
		for _, e := range manifest.Filter(opts.Category, "") {
			if e.Uploaded {
				manifest, _ = manifest.Update(e.ContentHash, clearUploaded, p.clock.Now())
			}
		}
	}

	var (
		files   []uploader.File
		owners  = map[string][]pipeline.ContentHash{}
		pending = map[pipeline.ContentHash]int{}
	)
	for _, e := range manifest.Filter(opts.Category, "") {
		if !e.Processed || e.Uploaded {
			continue
		}
		keys := e.Keys()
		if len(keys) == 0 {
			continue
		}
		stats.Entries++
		for _, key := range keys {
			// Keys carry only the short hash, so two entries can share one.
			if _, queued := owners[key]; !queued {
				localPath, err := p.store.Resolve(key)
				if err != nil {
					return stats, fmt.Errorf("resolve %s: %w", key, err)
				}
				files = append(files, uploader.File{LocalPath: localPath, Key: key})
			}
			owners[key] = append(owners[key], e.ContentHash)
		}
		pending[e.ContentHash] = len(keys)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanUploadBatch,
		attribute.String("category", opts.Category.String()),
		attribute.Int("entries", stats.Entries),
		attribute.Int("files", len(files)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	p.logger.Info("uploading", zap.Int("entries", stats.Entries), zap.Int("files", len(files)), zap.Bool("dry_run", opts.DryRun))

	failed := map[pipeline.ContentHash]bool{}
	stats.Files = p.uploader.UploadManyFunc(ctx, files, func(r uploader.Result) {
		for _, hash := range owners[r.Key] {
			if r.Success {
				pending[hash]--
				continue
			}
			failed[hash] = true
		}
	})

	for hash, remaining := range pending {
		if remaining > 0 || failed[hash] {
			continue
		}
		manifest, _ = manifest.Update(hash, func(e pipeline.Entry) pipeline.Entry {
			e.Uploaded = true
			return e
		}, p.clock.Now())
		stats.Uploaded++
	}

	p.logger.Info("upload complete",
		zap.Int("entries", stats.Entries),
		zap.Int("entries_uploaded", stats.Uploaded),
		zap.Int("files_uploaded", stats.Files.Uploaded),
		zap.Int("files_skipped", stats.Files.Skipped),
		zap.Int("files_failed", stats.Files.Failed),
	)

	if opts.DryRun {
		return stats, nil
	}
	if err := p.store.WriteManifest(ctx, manifest); err != nil {
		return stats, fmt.Errorf("save manifest: %w", err)
	}
	return stats, nil
}

func clearUploaded(e pipeline.Entry) pipeline.Entry {
	e.Uploaded = false
	return e
}
