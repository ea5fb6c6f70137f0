package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(c byte) ContentHash {
	return ContentHash(strings.Repeat(string(c), 64))
}

func testEntry(category Category, cc CountryCode, hash ContentHash) Entry {
	return Entry{
		ID:          EntryID(category, SourceGeohints, cc, hash),
		Category:    category,
		Source:      SourceGeohints,
		Country:     "Somewhere",
		CountryCode: cc,
		SourceURL:   "https://example.com/a.jpg",
		ContentHash: hash,
		Variants: map[Variant]string{
			VariantOriginal: ImageKey(category, cc, hash, VariantOriginal, "webp"),
			Variant400:      ImageKey(category, cc, hash, Variant400, "webp"),
			Variant800:      ImageKey(category, cc, hash, Variant800, "webp"),
			Variant1200:     ImageKey(category, cc, hash, Variant1200, "webp"),
		},
		ScrapedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMergeDeduplicatesByHash(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	existing := EmptyManifest(t0).Merge([]Entry{testEntry(CategoryBollards, "DE", testHash('a'))}, t0)

	merged := existing.Merge([]Entry{
		testEntry(CategoryBollards, "DE", testHash('a')),
		testEntry(CategoryBollards, "FR", testHash('b')),
		testEntry(CategoryRoadLines, "FR", testHash('b')),
	}, t1)

	require.Len(t, merged.Entries, 2)
	assert.Equal(t, testHash('a'), merged.Entries[0].ContentHash)
	assert.Equal(t, testHash('b'), merged.Entries[1].ContentHash)
	assert.Equal(t, CategoryBollards, merged.Entries[1].Category, "first occurrence wins")
	assert.Equal(t, t1, merged.LastUpdated)

	assert.Len(t, existing.Entries, 1, "receiver must not change")
	assert.Equal(t, t0, existing.LastUpdated)
	require.NoError(t, merged.Validate())
}

func TestMergeDoesNotShareVariantMaps(t *testing.T) {
	t.Parallel()

	e := testEntry(CategoryBollards, "DE", testHash('a'))
	m := EmptyManifest(time.Now()).Merge([]Entry{e}, time.Now())
	e.Variants[Variant400] = "changed"
	assert.NotEqual(t, "changed", m.Entries[0].Variants[Variant400])
}

func TestUpdateReplacesSingleEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := EmptyManifest(now).Merge([]Entry{
		testEntry(CategoryBollards, "DE", testHash('a')),
		testEntry(CategoryBollards, "FR", testHash('b')),
	}, now)

	updated, ok := m.Update(testHash('b'), func(e Entry) Entry {
		e.Uploaded = true
		return e
	}, now.Add(time.Minute))
	require.True(t, ok)
	assert.False(t, updated.Entries[0].Uploaded)
	assert.True(t, updated.Entries[1].Uploaded)
	assert.False(t, m.Entries[1].Uploaded)

	_, ok = m.Update(testHash('c'), func(e Entry) Entry { return e }, now)
	assert.False(t, ok)
}

func TestQueries(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := EmptyManifest(now).Merge([]Entry{
		testEntry(CategoryBollards, "DE", testHash('a')),
		testEntry(CategoryBollards, "FR", testHash('b')),
		testEntry(CategoryRoadLines, "DE", testHash('c')),
	}, now)

	assert.Len(t, m.ByCategory()[CategoryBollards], 2)
	assert.Len(t, m.BySource()[SourceGeohints], 3)
	assert.Len(t, m.ByCountry()["DE"], 2)
	assert.Equal(t, []CountryCode{"DE", "FR"}, m.CountryCodes())
	assert.Equal(t, []Category{CategoryBollards, CategoryRoadLines}, m.Categories())
	assert.Len(t, m.Filter(CategoryBollards, ""), 2)
	assert.Len(t, m.Filter(CategoryBollards, "FR"), 1)
	assert.Empty(t, m.Filter(CategoryScripts, ""))
	assert.Len(t, m.Filter("", ""), len(m.Entries))
	assert.True(t, m.HasHash(testHash('c')))
	assert.False(t, m.HasHash(testHash('d')))
}

func TestValidateRejectsDuplicateHashes(t *testing.T) {
	t.Parallel()

	e := testEntry(CategoryBollards, "DE", testHash('a'))
	m := Manifest{Version: 1, LastUpdated: time.Now(), Entries: []Entry{e, e}}
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()

	e := testEntry(CategoryBollards, "DE", testHash('a'))
	e.Country = ""
	e.ScrapedAt = time.Time{}
	m := Manifest{Version: 1, Entries: []Entry{e}}
	require.Error(t, m.Validate())

	require.Error(t, Manifest{Version: 0}.Validate())
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad hash":     `{"contentHash":"XYZ"}`,
		"bad country":  `{"countryCode":"deu"}`,
		"bad url":      `{"sourceUrl":"ftp://x"}`,
		"bad category": `{"category":"cats"}`,
		"bad source":   `{"source":"imgur"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var e Entry
			assert.Error(t, json.Unmarshal([]byte(raw), &e))
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	m := EmptyManifest(now).Merge([]Entry{testEntry(CategoryBollards, "DE", testHash('a'))}, now)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
	assert.Contains(t, string(data), `"countryCode":"DE"`)
	assert.Contains(t, string(data), `"400w":"bollards/de/aaaaaaaa-400w.webp"`)
}

func TestEntryURLs(t *testing.T) {
	t.Parallel()

	e := testEntry(CategoryBollards, "DE", testHash('a'))
	base := "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/bollards/de/aaaaaaaa-800w.webp", e.DefaultURL(base))
	assert.Equal(t,
		"https://cdn.example.com/bollards/de/aaaaaaaa-400w.webp 400w, "+
			"https://cdn.example.com/bollards/de/aaaaaaaa-800w.webp 800w, "+
			"https://cdn.example.com/bollards/de/aaaaaaaa-1200w.webp 1200w",
		e.Srcset(base))
	assert.Len(t, e.Keys(), 4)
	assert.Equal(t, "bollards-geohints-de-aaaaaaaaaaaa", e.ID)
}

func TestParseEnums(t *testing.T) {
	t.Parallel()

	c, err := ParseCategory(" road-lines ")
	require.NoError(t, err)
	assert.Equal(t, CategoryRoadLines, c)
	_, err = ParseCategory("cats")
	assert.True(t, errors.Is(err, ErrUnknownCategory))

	s, err := ParseSource("geomastr")
	require.NoError(t, err)
	assert.Equal(t, SourceGeomastr, s)
	_, err = ParseSource("imgur")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	assert.Len(t, Categories(), 21)
	assert.Equal(t, 800, Variant800.Width())
	assert.Equal(t, 0, VariantOriginal.Width())
	assert.Equal(t, Variant1200, VariantForWidth(1200))
}

func TestKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timeout", Kind(&TimeoutError{URL: "u"}))
	assert.Equal(t, "network", Kind(&NetworkError{URL: "u"}))
	assert.Equal(t, "http", Kind(&HTTPError{URL: "u", StatusCode: 404}))
	assert.Equal(t, "too_large", Kind(&BodyTooLargeError{URL: "u", Limit: 10}))
	assert.Equal(t, "parse", Kind(&ParseError{Message: "m"}))
	assert.Equal(t, "image", Kind(&ImageError{Message: "m"}))
	assert.Equal(t, "upload", Kind(&UploadError{Key: "k"}))
	assert.Equal(t, "filesystem", Kind(&FilesystemError{Op: OpWrite}))
	assert.Equal(t, "unknown", Kind(errors.New("x")))
}
