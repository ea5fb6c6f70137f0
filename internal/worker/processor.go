package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// sourceFormats are the raw formats the scraper may have stored, in lookup
// order.
var sourceFormats = []string{"jpeg", "png", "gif", "webp"}

// ProcessOptions selects entries to re-derive.
type ProcessOptions struct {
	// Category limits processing to one category when set.
	Category pipeline.Category
	// Force re-derives every selected entry.
	Force  bool
	DryRun bool
}

// ProcessStats summarizes a processor run.
type ProcessStats struct {
	Selected  int
	Processed int
	Skipped   int
	Failed    int
}

// Processor re-derives renditions from the stored raw downloads.
type Processor struct {
	store      pipeline.ContentStore
	transcoder pipeline.Transcoder
	clock      pipeline.Clock
	logger     *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(store pipeline.ContentStore, transcoder pipeline.Transcoder, clock pipeline.Clock, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, transcoder: transcoder, clock: clock, logger: logger}
}

// Run processes entries that are unprocessed or missing a rendition, or every
// selected entry when opts.Force is set. The manifest is written once at the
// end unless nothing changed or opts.DryRun is set.
func (p *Processor) Run(ctx context.Context, opts ProcessOptions) (ProcessStats, error) {
	manifest, err := p.store.ReadManifest(ctx)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("load manifest: %w", err)
	}

	var stats ProcessStats
	changed := false
	for _, entry := range manifest.Entries {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("process: %w", err)
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		stats.Selected++

		if !opts.Force && entry.Processed && p.complete(ctx, entry) {
			stats.Skipped++
			continue
		}

		logger := p.logger.With(zap.String("id", entry.ID))
		variants, err := p.derive(ctx, entry, opts.DryRun)
		if err != nil {
			logger.Warn("processing failed", zap.String("reason", pipeline.Kind(err)), zap.Error(err))
			stats.Failed++
			continue
		}
		stats.Processed++
		logger.Info("image processed", zap.Int("variants", len(variants)))
		if opts.DryRun {
			continue
		}
		manifest, _ = manifest.Update(entry.ContentHash, func(e pipeline.Entry) pipeline.Entry {
			e.Variants = variants
			e.Processed = true
			return e
		}, p.clock.Now())
		changed = true
	}

	if changed {
		if err := p.store.WriteManifest(ctx, manifest); err != nil {
			return stats, fmt.Errorf("save manifest: %w", err)
		}
	}
	p.logger.Info("processing complete",
		zap.Int("selected", stats.Selected),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// complete reports whether every expected rendition of entry is on disk.
func (p *Processor) complete(ctx context.Context, entry pipeline.Entry) bool {
	if len(entry.Variants) == 0 {
		return false
	}
	for _, key := range entry.Keys() {
		ok, err := p.store.Exists(ctx, key)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (p *Processor) derive(ctx context.Context, entry pipeline.Entry, dryRun bool) (map[pipeline.Variant]string, error) {
	raw, err := p.readSource(ctx, entry)
	if err != nil {
		return nil, err
	}
	processed, err := p.transcoder.Process(raw)
	if err != nil {
		return nil, err
	}
	return storeRenditions(ctx, p.store, p.transcoder.Extension(),
		entry.Category, entry.CountryCode, entry.ContentHash, nil, processed, dryRun)
}

func (p *Processor) readSource(ctx context.Context, entry pipeline.Entry) ([]byte, error) {
	for _, format := range sourceFormats {
		key := pipeline.SourceKey(entry.Category, entry.CountryCode, entry.ContentHash, format)
		ok, err := p.store.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return p.store.ReadImage(ctx, key)
		}
	}
	return nil, &pipeline.FilesystemError{
		Path: pipeline.SourceKey(entry.Category, entry.CountryCode, entry.ContentHash, "*"),
		Op:   pipeline.OpRead,
		Err:  fmt.Errorf("raw source for %s not found", entry.ID),
	}
}
