package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/clock/system"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/storage/local"
)

const bollardsPage = `<html><body>
<img src="/assets/flags/de.svg">
<img src="/assets/media/bollards/germany.png">
<img src="/assets/media/bollards/france.png">
<img src="/assets/media/bollards/germany2.png">
</body></html>`

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newSite serves a geomastr-like bollards page. germany2.png has the same
// bytes as germany.png, so the scrape stores two images.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	red := pngBytes(t, color.RGBA{R: 255, A: 255})
	blue := pngBytes(t, color.RGBA{B: 255, A: 255})
	images := map[string][]byte{
		"/assets/media/bollards/germany.png":  red,
		"/assets/media/bollards/germany2.png": red,
		"/assets/media/bollards/france.png":   blue,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/bollards", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, bollardsPage)
	})
	mux.HandleFunc("/assets/media/bollards/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, siteURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "images")
	body := fmt.Sprintf(`
scraper:
  delay_ms: 0
  max_retries: 0
  concurrency: 1
  backoff_base_ms: 1
  backoff_max_ms: 1
storage:
  output_dir: %s
remote:
  backend: memory
image:
  widths: [16, 32]
sources:
  geomastr_url: %s
logging:
  development: false
  level: error
`, out, siteURL)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, out
}

func readManifest(t *testing.T, outDir string) pipeline.Manifest {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: outDir}, system.New())
	require.NoError(t, err)
	m, err := store.ReadManifest(context.Background())
	require.NoError(t, err)
	return m
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	got, err := resolveTarget("bollards", false)
	require.NoError(t, err)
	assert.Equal(t, pipeline.CategoryBollards, got)

	got, err = resolveTarget("", true)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = resolveTarget("", false)
	assert.ErrorContains(t, err, "--category <name> or --all")

	_, err = resolveTarget("bollards", true)
	assert.ErrorContains(t, err, "not both")

	_, err = resolveTarget("lamp-posts", false)
	assert.ErrorIs(t, err, pipeline.ErrUnknownCategory)
}

func TestCommandsRejectBadArguments(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")

	tests := map[string][]string{
		"scrape without target": {"scrape"},
		"scrape both targets":   {"scrape", "--all", "--category", "bollards"},
		"unknown category":      {"scrape", "--category", "lamp-posts"},
		"unknown source":        {"scrape", "--all", "--source", "mapillary"},
		"upload without target": {"upload"},
		"process bad category":  {"process", "--category", "nope"},
		"stats extra argument":  {"stats", "now"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			err := run(context.Background(), append([]string{"--config", cfgPath}, args...), &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestRootReportsInitFailure(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("boom")
	}

	err := run(context.Background(), []string{"stats"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestMissingConfigFileFails(t *testing.T) {
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "stats"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestScrapeUploadStatsEndToEnd(t *testing.T) {
	site := newSite(t)
	cfgPath, outDir := writeConfig(t, site.URL)
	ctx := context.Background()
	exec := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		require.NoError(t, run(ctx, append([]string{"--config", cfgPath}, args...), &out))
		return out.String()
	}

	exec("scrape", "--category", "bollards", "--dry-run")
	_, err := os.Stat(filepath.Join(outDir, "manifest.json"))
	assert.True(t, os.IsNotExist(err), "dry run writes no manifest")

	exec("scrape", "--category", "bollards")
	m := readManifest(t, outDir)
	require.Len(t, m.Entries, 2)
	for _, e := range m.Entries {
		assert.True(t, e.Processed)
		assert.False(t, e.Uploaded)
		assert.Len(t, e.Variants, 3)
	}

	// A second run finds only duplicates.
	exec("scrape", "--category", "bollards")
	assert.Len(t, readManifest(t, outDir).Entries, 2)

	exec("process", "--force")
	exec("upload", "--all", "--dry-run")
	for _, e := range readManifest(t, outDir).Entries {
		assert.False(t, e.Uploaded, "dry run upload leaves flags alone")
	}

	exec("upload", "--category", "bollards")
	for _, e := range readManifest(t, outDir).Entries {
		assert.True(t, e.Uploaded)
	}

	stats := exec("stats")
	assert.Contains(t, stats, "Entries")
	assert.Contains(t, stats, "bollards")
	assert.Contains(t, stats, "DE")
	assert.Contains(t, stats, "FR")

	// Each invocation gets a fresh in-memory bucket, so the audit finds
	// every uploaded entry missing and --fix resets them.
	report := exec("audit", "--fix")
	assert.Contains(t, report, "Missing keys")
	for _, e := range readManifest(t, outDir).Entries {
		assert.False(t, e.Uploaded)
	}
}

func TestCollectStats(t *testing.T) {
	t.Parallel()

	entry := func(cc pipeline.CountryCode, category pipeline.Category, source pipeline.Source, hash string) pipeline.Entry {
		return pipeline.Entry{
			Category:    category,
			Source:      source,
			CountryCode: cc,
			ContentHash: pipeline.ContentHash(hash),
			Processed:   true,
			Uploaded:    cc == "DE",
			NeedsReview: cc == pipeline.UnknownCountry,
		}
	}
	m := pipeline.Manifest{Version: 1, Entries: []pipeline.Entry{
		entry("DE", pipeline.CategoryBollards, pipeline.SourceGeomastr, "a"),
		entry("DE", pipeline.CategoryBollards, pipeline.SourceGeohints, "b"),
		entry("FR", pipeline.CategoryRoadLines, pipeline.SourceGeomastr, "c"),
		entry(pipeline.UnknownCountry, pipeline.CategoryRoadLines, pipeline.SourceGeomastr, "d"),
	}}

	s := collectStats(m)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 2, s.Uploaded)
	assert.Equal(t, 1, s.NeedsReview)
	assert.Equal(t, 3, s.UniqueCountries)
	assert.Equal(t, []tally{{"bollards", 2}, {"road-lines", 2}}, s.ByCategory)
	assert.Equal(t, []tally{{"geomastr", 3}, {"geohints", 1}}, s.BySource)
	assert.Equal(t, tally{"DE", 2}, s.TopCountries[0])

	var out bytes.Buffer
	renderStats(&out, s)
	assert.Contains(t, out.String(), "Needs review")
	assert.Contains(t, out.String(), "Top countries")
}
