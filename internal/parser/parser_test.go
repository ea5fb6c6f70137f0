package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/parser/geohints"
	"github.com/JakeFAU/geohints-scraper/internal/parser/geomastr"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	gh, err := geohints.New(geohints.Config{})
	require.NoError(t, err)
	gm, err := geomastr.New(geomastr.Config{})
	require.NoError(t, err)

	reg := parser.NewRegistry(gm, gh)
	assert.Equal(t, []pipeline.Source{pipeline.SourceGeomastr, pipeline.SourceGeohints}, reg.Sources())

	got, err := reg.Get(pipeline.SourceGeohints)
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceGeohints, got.Source())

	_, err = reg.Get(pipeline.SourcePlonkit)
	assert.Error(t, err)
}

func TestDeduper(t *testing.T) {
	t.Parallel()

	d := parser.NewDeduper()
	assert.True(t, d.Add(pipeline.Candidate{ImageURL: "https://a.example/1.jpg"}))
	assert.False(t, d.Add(pipeline.Candidate{ImageURL: "https://a.example/1.jpg"}))
	assert.True(t, d.Add(pipeline.Candidate{ImageURL: "https://a.example/2.jpg"}))
	assert.Len(t, d.Candidates(), 2)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := parser.ParseBase("https://geohints.com")
	require.NoError(t, err)

	got, ok := parser.ResolveURL(base, "/storage/a b.jpg")
	require.True(t, ok)
	assert.Equal(t, pipeline.URL("https://geohints.com/storage/a%20b.jpg"), got)

	got, ok = parser.ResolveURL(base, "https://cdn.example/x.png")
	require.True(t, ok)
	assert.Equal(t, pipeline.URL("https://cdn.example/x.png"), got)

	_, ok = parser.ResolveURL(base, "")
	assert.False(t, ok)
	_, ok = parser.ResolveURL(base, "data:image/png;base64,AAAA")
	assert.False(t, ok)

	_, err = parser.ParseBase("ftp://example.com")
	assert.Error(t, err)
}

func TestNewCandidate(t *testing.T) {
	t.Parallel()

	c := parser.NewCandidate("  New   Zealand ", "https://a.example/nz.jpg")
	assert.Equal(t, "New Zealand", c.Country)
	assert.Equal(t, pipeline.CountryCode("NZ"), c.CountryCode)
	assert.False(t, c.NeedsReview)

	c = parser.NewCandidate("", "https://a.example/x.jpg")
	assert.Equal(t, "Unknown", c.Country)
	assert.True(t, c.NeedsReview)

	assert.Equal(t, "south africa.jpg", parser.FileName("https://x.example/a/south%20africa.jpg"))
}
