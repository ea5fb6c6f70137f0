package worker

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

func scrapedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.seedBollards(t)
	_, err := h.scraper(ScraperConfig{Concurrency: 1}).RunCategory(context.Background(), pipeline.SourceGeohints, pipeline.CategoryBollards)
	require.NoError(t, err)
	return h
}

func TestProcessorSkipsCompleteEntries(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	p := NewProcessor(h.store, h.transcoder, h.clock, nil)

	stats, err := p.Run(context.Background(), ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProcessStats{Selected: 3, Skipped: 3}, stats)
}

func TestProcessorRestoresMissingRenditions(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	entry := h.manifest(t).Entries[1]
	lost, err := h.store.Resolve(entry.Variants["20w"])
	require.NoError(t, err)
	require.NoError(t, os.Remove(lost))

	stats, err := NewProcessor(h.store, h.transcoder, h.clock, nil).Run(context.Background(), ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, ProcessStats{Selected: 3, Processed: 1, Skipped: 2}, stats)

	_, err = os.Stat(lost)
	assert.NoError(t, err)
}

func TestProcessorForceAndFilter(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	p := NewProcessor(h.store, h.transcoder, h.clock, nil)

	stats, err := p.Run(context.Background(), ProcessOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)

	stats, err = p.Run(context.Background(), ProcessOptions{Force: true, Category: pipeline.CategoryRoadLines})
	require.NoError(t, err)
	assert.Equal(t, ProcessStats{}, stats)
}

func TestProcessorMarksUnprocessedEntries(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	m := h.manifest(t)
	target := m.Entries[0]
	m, ok := m.Update(target.ContentHash, func(e pipeline.Entry) pipeline.Entry {
		e.Processed = false
		e.Variants = nil
		return e
	}, testNow)
	require.True(t, ok)
	require.NoError(t, h.store.WriteManifest(context.Background(), m))

	stats, err := NewProcessor(h.store, h.transcoder, h.clock, nil).Run(context.Background(), ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	updated, ok := h.manifest(t).Find(target.ContentHash)
	require.True(t, ok)
	assert.True(t, updated.Processed)
	assert.Equal(t, target.Variants, updated.Variants)
}

func TestProcessorMissingSourceFails(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	entry := h.manifest(t).Entries[0]
	raw, err := h.store.Resolve(pipeline.SourceKey(entry.Category, entry.CountryCode, entry.ContentHash, "png"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(raw))

	stats, err := NewProcessor(h.store, h.transcoder, h.clock, nil).Run(context.Background(), ProcessOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Processed)
}

func TestProcessorDryRunLeavesManifest(t *testing.T) {
	t.Parallel()

	h := scrapedHarness(t)
	before, err := os.ReadFile(h.store.ManifestPath())
	require.NoError(t, err)

	_, err = NewProcessor(h.store, h.transcoder, h.clock, nil).Run(context.Background(), ProcessOptions{Force: true, DryRun: true})
	require.NoError(t, err)

	after, err := os.ReadFile(h.store.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
