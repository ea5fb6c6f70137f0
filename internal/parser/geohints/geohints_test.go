package geohints

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

const fixture = `<html><body>
<main>
  <div class="card">
    <span class="font-bold">Germany</span>
    <img src="https://ocsc00skc0wokcs8kw8g8k84.geohints.com/storage/bollards/de_1.jpg">
  </div>
  <div class="card">
    <a><b><span class="font-bold">France</span></b><img data-src="/storage/bollards/fr.jpg"></a>
  </div>
  <section>
    <h3>United Kingdom</h3>
    <p><img src="/storage/bollards/uk.webp"></p>
  </section>
  <p><img src="/storage/bollards/south_africa_2.png"></p>
  <p><img src="/storage/bollards/wakanda.jpg"></p>
  <div class="card">
    <span class="font-bold">Germany</span>
    <img src="https://ocsc00skc0wokcs8kw8g8k84.geohints.com/storage/bollards/de_1.jpg">
  </div>
  <img src="/icons/logo.svg">
  <img src="/_next/static/bollards/new-zealand.jpg">
</main>
</body></html>`

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(Config{})
	require.NoError(t, err)
	return p
}

func TestParseExtractsCandidates(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	got, err := p.Parse(fixture, pipeline.CategoryBollards)
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, "Germany", got[0].Country)
	assert.Equal(t, pipeline.CountryCode("DE"), got[0].CountryCode)
	assert.False(t, got[0].NeedsReview)

	assert.Equal(t, "France", got[1].Country)
	assert.Equal(t, pipeline.URL("https://geohints.com/storage/bollards/fr.jpg"), got[1].ImageURL)

	assert.Equal(t, "United Kingdom", got[2].Country)
	assert.Equal(t, pipeline.CountryCode("GB"), got[2].CountryCode)

	assert.Equal(t, "south africa", got[3].Country)
	assert.Equal(t, pipeline.CountryCode("ZA"), got[3].CountryCode)

	assert.Equal(t, pipeline.CountryCode("WA"), got[4].CountryCode)
	assert.True(t, got[4].NeedsReview)

	assert.Equal(t, pipeline.URL(DefaultCDNURL+"/bollards/new-zealand.jpg"), got[5].ImageURL)
	assert.Equal(t, "new zealand", got[5].Country)
	assert.Equal(t, pipeline.CountryCode("NZ"), got[5].CountryCode)
}

func TestParseNoImages(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	_, err := p.Parse(`<html><body><img src="/logo.png"><p>nothing</p></body></html>`, pipeline.CategoryBollards)
	require.Error(t, err)

	var parseErr *pipeline.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Error(), "No images found in HTML")
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	got, err := p.PageURL(pipeline.CategoryLicensePlates)
	require.NoError(t, err)
	assert.Equal(t, "https://geohints.com/meta/licensePlates", got)

	got, err = p.PageURL(pipeline.CategoryGoogleCars)
	require.NoError(t, err)
	assert.Equal(t, "https://geohints.com/meta/googleVehicles/cars", got)

	_, err = p.PageURL(pipeline.CategoryVegetation)
	assert.ErrorIs(t, err, pipeline.ErrUnsupportedCategory)
}

func TestCategoriesAreSupported(t *testing.T) {
	t.Parallel()

	p := newParser(t)
	for _, c := range p.Categories() {
		_, err := p.PageURL(c)
		assert.NoErrorf(t, err, "category %s", c)
	}
}

func TestCountryFromFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "united states", countryFromFilename("united_states_2.jpg"))
	assert.Equal(t, "Japan", countryFromFilename("Japan.png"))
	assert.Equal(t, "Unknown", countryFromFilename("1234.png"))
}
