package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/hash/sha256"
	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/storage/local"
	"github.com/JakeFAU/geohints-scraper/internal/transcode"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type pngEncoder struct{}

func (pngEncoder) Encode(w io.Writer, img image.Image, _ int) error { return png.Encode(w, img) }
func (pngEncoder) Extension() string                                { return "png" }
func (pngEncoder) ContentType() string                              { return "image/png" }

type fakeParser struct {
	source     pipeline.Source
	candidates map[pipeline.Category][]pipeline.Candidate
	err        error
}

func (p *fakeParser) Source() pipeline.Source { return p.source }

func (p *fakeParser) Categories() []pipeline.Category {
	var out []pipeline.Category
	for _, c := range pipeline.Categories() {
		if _, ok := p.candidates[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakeParser) PageURL(category pipeline.Category) (string, error) {
	return "https://hints.test/meta/" + category.String(), nil
}

func (p *fakeParser) Parse(_ string, category pipeline.Category) ([]pipeline.Candidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	cands, ok := p.candidates[category]
	if !ok || len(cands) == 0 {
		return nil, &pipeline.ParseError{Source: "fake", Message: "No images found in HTML"}
	}
	return cands, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	images   map[string][]byte
	htmlErr  error
	imageErr map[string]error
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		images:   map[string][]byte{},
		imageErr: map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) FetchHTML(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if f.htmlErr != nil {
		return "", f.htmlErr
	}
	return "<html></html>", nil
}

func (f *fakeFetcher) FetchImage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.imageErr[url]; err != nil {
		return nil, err
	}
	data, ok := f.images[url]
	if !ok {
		return nil, &pipeline.HTTPError{URL: url, StatusCode: 404}
	}
	return data, nil
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func candidate(country string, cc pipeline.CountryCode, url string, review bool) pipeline.Candidate {
	return pipeline.Candidate{Country: country, CountryCode: cc, ImageURL: pipeline.URL(url), NeedsReview: review}
}

type harness struct {
	store      *local.Store
	fetcher    *fakeFetcher
	parser     *fakeParser
	transcoder *transcode.Transcoder
	clock      fixedClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "out")}, fixedClock{testNow})
	require.NoError(t, err)
	return &harness{
		store:      store,
		fetcher:    newFakeFetcher(),
		parser:     &fakeParser{source: pipeline.SourceGeohints, candidates: map[pipeline.Category][]pipeline.Candidate{}},
		transcoder: transcode.New(transcode.Config{Widths: []int{20}}, pngEncoder{}),
		clock:      fixedClock{testNow},
	}
}

// seedBollards registers three distinct images plus one byte-identical
// duplicate under a different URL.
func (h *harness) seedBollards(t *testing.T) {
	t.Helper()
	h.fetcher.images["https://cdn.test/de.png"] = solidPNG(t, 40, 20, color.RGBA{R: 255, A: 255})
	h.fetcher.images["https://cdn.test/fr.png"] = solidPNG(t, 40, 20, color.RGBA{G: 255, A: 255})
	h.fetcher.images["https://cdn.test/wa.png"] = solidPNG(t, 10, 10, color.RGBA{B: 255, A: 255})
	h.fetcher.images["https://cdn.test/de-copy.png"] = h.fetcher.images["https://cdn.test/de.png"]
	h.parser.candidates[pipeline.CategoryBollards] = []pipeline.Candidate{
		candidate("Germany", "DE", "https://cdn.test/de.png", false),
		candidate("France", "FR", "https://cdn.test/fr.png", false),
		candidate("Wakanda", "WA", "https://cdn.test/wa.png", true),
		candidate("Germany", "DE", "https://cdn.test/de-copy.png", false),
	}
}

func (h *harness) scraper(cfg ScraperConfig) *Scraper {
	return NewScraper(ScraperDeps{
		Parsers:    parser.NewRegistry(h.parser),
		Fetcher:    h.fetcher,
		Store:      h.store,
		Transcoder: h.transcoder,
		Hasher:     sha256.New(),
		Clock:      h.clock,
	}, cfg)
}

func (h *harness) manifest(t *testing.T) pipeline.Manifest {
	t.Helper()
	m, err := h.store.ReadManifest(context.Background())
	require.NoError(t, err)
	return m
}

var errBoom = errors.New("boom")
