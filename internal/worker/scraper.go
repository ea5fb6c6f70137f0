// Package worker runs the scrape, process, publish and audit stages over the
// manifest.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/geohints-scraper/internal/metrics"
	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/telemetry"
)

// Hasher digests image bytes.
type Hasher interface {
	Hash(data []byte) pipeline.ContentHash
}

// ScraperConfig controls per-category scraping.
type ScraperConfig struct {
	Concurrency int
	DryRun      bool
}

// CategoryResult summarizes one category scrape.
type CategoryResult struct {
	Source   pipeline.Source
	Category pipeline.Category
	Entries  []pipeline.Entry
	Total    int
	New      int
	Skipped  int
	Failed   int
}

// Scraper turns a category page into manifest entries.
type Scraper struct {
	parsers    *parser.Registry
	fetcher    pipeline.Fetcher
	store      pipeline.ContentStore
	transcoder pipeline.Transcoder
	hasher     Hasher
	clock      pipeline.Clock
	cfg        ScraperConfig
	recorder   *metrics.Recorder
	logger     *zap.Logger
}

// ScraperDeps groups the collaborators of a Scraper.
type ScraperDeps struct {
	Parsers    *parser.Registry
	Fetcher    pipeline.Fetcher
	Store      pipeline.ContentStore
	Transcoder pipeline.Transcoder
	Hasher     Hasher
	Clock      pipeline.Clock
	Recorder   *metrics.Recorder
	Logger     *zap.Logger
}

// NewScraper builds a Scraper.
func NewScraper(deps ScraperDeps, cfg ScraperConfig) *Scraper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		parsers:    deps.Parsers,
		fetcher:    deps.Fetcher,
		store:      deps.Store,
		transcoder: deps.Transcoder,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		cfg:        cfg,
		recorder:   deps.Recorder,
		logger:     logger,
	}
}

// Parser returns the registered parser for source.
func (s *Scraper) Parser(source pipeline.Source) (pipeline.Parser, error) {
	return s.parsers.Get(source)
}

// RunCategory scrapes one category and merges the result into the stored
// manifest. Nothing is written in dry-run mode.
func (s *Scraper) RunCategory(ctx context.Context, source pipeline.Source, category pipeline.Category) (CategoryResult, error) {
	manifest, err := s.store.ReadManifest(ctx)
	if err != nil {
		return CategoryResult{}, fmt.Errorf("load manifest: %w", err)
	}
	res, err := s.ScrapeCategory(ctx, source, category, manifest)
	if err != nil {
		return res, err
	}
	if s.cfg.DryRun {
		return res, nil
	}
	merged := manifest.Merge(res.Entries, s.clock.Now())
	if err := s.store.WriteManifest(ctx, merged); err != nil {
		return res, fmt.Errorf("save manifest: %w", err)
	}
	return res, nil
}

// ScrapeCategory fetches and parses the category page, then downloads,
// deduplicates, transcodes and stores each image. Per-image failures are
// logged and counted; only page-level failures are returned.
func (s *Scraper) ScrapeCategory(
	ctx context.Context,
	source pipeline.Source,
	category pipeline.Category,
	existing pipeline.Manifest,
) (res CategoryResult, err error) {
	res = CategoryResult{Source: source, Category: category}
	logger := s.logger.With(zap.String("source", source.String()), zap.String("category", category.String()))

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScrapeCategory,
		attribute.String("source", source.String()),
		attribute.String("category", category.String()),
	)
	defer func() {
		span.SetAttributes(attribute.Int("images", res.Total), attribute.Int("new", res.New))
		telemetry.EndSpan(span, err)
	}()

	p, err := s.parsers.Get(source)
	if err != nil {
		return res, err
	}
	pageURL, err := p.PageURL(category)
	if err != nil {
		return res, err
	}

	logger.Info("scraping category", zap.String("url", pageURL))
	html, err := s.fetcher.FetchHTML(ctx, pageURL)
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	candidates, err := p.Parse(html, category)
	if err != nil {
		return res, err
	}
	res.Total = len(candidates)
	logger.Info("found images", zap.Int("count", len(candidates)))

	known := existing.HashSet()
	seen := newSeenSet()
	interval := max(5, len(candidates)/20)

	var (
		mu      sync.Mutex
		done    int
		entries = make([]*pipeline.Entry, len(candidates))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			entry, outcome := s.scrapeImage(gctx, logger, source, category, c, known, seen)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.OutcomeNew:
				entries[i] = entry
				res.New++
			case metrics.OutcomeDuplicate:
				res.Skipped++
			default:
				res.Failed++
			}
			s.recorder.ObserveImage(category.String(), outcome)
			done++
			if done%interval == 0 || done == len(candidates) {
				logger.Info("progress",
					zap.Int("processed", done),
					zap.Int("total", len(candidates)),
					zap.Int("percent", done*100/len(candidates)),
					zap.Int("new", res.New),
					zap.Int("skipped", res.Skipped),
					zap.Int("failed", res.Failed),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("scrape %s: %w", category, err)
	}

	// Keep page order so repeated runs produce the same manifest layout.
	for _, e := range entries {
		if e != nil {
			res.Entries = append(res.Entries, *e)
		}
	}
	logger.Info("category complete",
		zap.Int("total", res.Total),
		zap.Int("new", res.New),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Scraper) scrapeImage(
	ctx context.Context,
	logger *zap.Logger,
	source pipeline.Source,
	category pipeline.Category,
	c pipeline.Candidate,
	known map[pipeline.ContentHash]struct{},
	seen *seenSet,
) (*pipeline.Entry, string) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScrapeImage,
		attribute.String("url", c.ImageURL.String()),
		attribute.String("country", c.CountryCode.String()),
	)
	imgLogger := logger.With(zap.String("url", c.ImageURL.String()), zap.String("country", c.Country))

	data, err := s.fetcher.FetchImage(ctx, c.ImageURL.String())
	if err != nil {
		imgLogger.Warn("image skipped", zap.String("reason", pipeline.Kind(err)), zap.Error(err))
		telemetry.EndSpan(span, err)
		return nil, metrics.OutcomeFailed
	}

	hash := s.hasher.Hash(data)
	if _, ok := known[hash]; ok || !seen.add(hash) {
		imgLogger.Info("duplicate image skipped", zap.String("hash", hash.Short()))
		telemetry.EndSpan(span, nil)
		return nil, metrics.OutcomeDuplicate
	}

	processed, err := s.transcoder.Process(data)
	if err != nil {
		imgLogger.Warn("image skipped", zap.String("reason", pipeline.Kind(err)), zap.Error(err))
		telemetry.EndSpan(span, err)
		return nil, metrics.OutcomeFailed
	}

	variants, err := storeRenditions(ctx, s.store, s.transcoder.Extension(), category, c.CountryCode, hash, data, processed, s.cfg.DryRun)
	if err != nil {
		imgLogger.Warn("image skipped", zap.String("reason", pipeline.Kind(err)), zap.Error(err))
		telemetry.EndSpan(span, err)
		return nil, metrics.OutcomeFailed
	}

	entry := &pipeline.Entry{
		ID:          pipeline.EntryID(category, source, c.CountryCode, hash),
		Category:    category,
		Source:      source,
		Country:     c.Country,
		CountryCode: c.CountryCode,
		SourceURL:   c.ImageURL,
		ContentHash: hash,
		Variants:    variants,
		ScrapedAt:   s.clock.Now(),
		Processed:   true,
		NeedsReview: c.NeedsReview,
	}
	if c.NeedsReview {
		imgLogger.Warn("country not recognized, flagged for review", zap.String("code", c.CountryCode.String()))
	}
	imgLogger.Info("image processed",
		zap.String("hash", hash.Short()),
		zap.Int("width", processed.Metadata.Width),
		zap.Int("height", processed.Metadata.Height),
	)
	telemetry.EndSpan(span, nil)
	return entry, metrics.OutcomeNew
}

// storeRenditions writes the raw download (when given) and every rendition,
// returning the variant paths. In dry-run mode only the paths are computed.
func storeRenditions(
	ctx context.Context,
	store pipeline.ContentStore,
	ext string,
	category pipeline.Category,
	cc pipeline.CountryCode,
	hash pipeline.ContentHash,
	raw []byte,
	processed pipeline.ProcessedImage,
	dryRun bool,
) (map[pipeline.Variant]string, error) {
	files := map[string][]byte{}
	if raw != nil {
		files[pipeline.SourceKey(category, cc, hash, processed.Metadata.Format)] = raw
	}
	variants := make(map[pipeline.Variant]string, len(processed.Variants)+1)

	originalKey := pipeline.ImageKey(category, cc, hash, pipeline.VariantOriginal, ext)
	variants[pipeline.VariantOriginal] = originalKey
	files[originalKey] = processed.Original
	for v, data := range processed.Variants {
		key := pipeline.ImageKey(category, cc, hash, v, ext)
		variants[v] = key
		files[key] = data
	}

	if dryRun {
		return variants, nil
	}
	for key, data := range files {
		if _, err := store.SaveImage(ctx, key, data); err != nil {
			return nil, err
		}
	}
	return variants, nil
}

// seenSet tracks hashes downloaded during the current run.
type seenSet struct {
	mu     sync.Mutex
	hashes map[pipeline.ContentHash]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{hashes: make(map[pipeline.ContentHash]struct{})}
}

// add reports whether hash was new.
func (s *seenSet) add(hash pipeline.ContentHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[hash]; ok {
		return false
	}
	s.hashes[hash] = struct{}{}
	return true
}
