// Package dispatcher runs a full scrape over every category a source supports.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/metrics"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/worker"
)

// CategoryScraper scrapes one category against an existing manifest.
type CategoryScraper interface {
	Parser(source pipeline.Source) (pipeline.Parser, error)
	ScrapeCategory(ctx context.Context, source pipeline.Source, category pipeline.Category, existing pipeline.Manifest) (worker.CategoryResult, error)
}

// Summary aggregates a full run.
type Summary struct {
	Source       pipeline.Source
	Categories   int
	Succeeded    int
	Failed       int
	NewImages    int
	Skipped      int
	FailedImages int
	Results      []worker.CategoryResult
}

// Dispatcher walks categories one at a time.
type Dispatcher struct {
	scraper  CategoryScraper
	store    pipeline.ContentStore
	clock    pipeline.Clock
	dryRun   bool
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(scraper CategoryScraper, store pipeline.ContentStore, clock pipeline.Clock, dryRun bool, recorder *metrics.Recorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		scraper:  scraper,
		store:    store,
		clock:    clock,
		dryRun:   dryRun,
		recorder: recorder,
		logger:   logger,
	}
}

// ScrapeAll scrapes every category of source sequentially. A failing
// category is logged and skipped; after each successful category the new
// entries are merged and the manifest is written, so an interrupted run loses
// at most one category.
func (d *Dispatcher) ScrapeAll(ctx context.Context, source pipeline.Source) (Summary, error) {
	p, err := d.scraper.Parser(source)
	if err != nil {
		return Summary{}, err
	}
	manifest, err := d.store.ReadManifest(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load manifest: %w", err)
	}

	categories := p.Categories()
	summary := Summary{Source: source, Categories: len(categories)}
	for i, category := range categories {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("scrape all: %w", err)
		}
		d.logger.Info("category",
			zap.Int("index", i+1),
			zap.Int("of", len(categories)),
			zap.String("category", category.String()),
		)

		res, err := d.scraper.ScrapeCategory(ctx, source, category, manifest)
		if err != nil {
			if ctx.Err() != nil {
				return summary, fmt.Errorf("scrape all: %w", ctx.Err())
			}
			d.logger.Warn("category failed",
				zap.String("category", category.String()),
				zap.String("reason", pipeline.Kind(err)),
				zap.Error(err),
			)
			summary.Failed++
			d.recorder.ObserveCategory(metrics.OutcomeFailed)
			continue
		}

		summary.Succeeded++
		summary.NewImages += res.New
		summary.Skipped += res.Skipped
		summary.FailedImages += res.Failed
		summary.Results = append(summary.Results, res)
		d.recorder.ObserveCategory(metrics.OutcomeSuccess)

		if d.dryRun || len(res.Entries) == 0 {
			continue
		}
		manifest = manifest.Merge(res.Entries, d.clock.Now())
		if err := d.store.WriteManifest(ctx, manifest); err != nil {
			return summary, fmt.Errorf("checkpoint manifest after %s: %w", category, err)
		}
	}

	d.logger.Info("scrape complete",
		zap.String("source", source.String()),
		zap.Int("categories", summary.Categories),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("new_images", summary.NewImages),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed_images", summary.FailedImages),
		zap.Int("total_entries", len(manifest.Entries)),
	)
	return summary, nil
}
