// Package pipeline defines the domain types shared by the scrape, process and
// upload stages.
package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Category names a kind of visual hint.
type Category string

// Known categories.
const (
	CategoryBollards      Category = "bollards"
	CategoryLicensePlates Category = "license-plates"
	CategoryRoadLines     Category = "road-lines"
	CategoryStreetSigns   Category = "street-signs"
	CategoryUtilityPoles  Category = "utility-poles"
	CategoryPhoneBooths   Category = "phone-booths"
	CategoryPostBoxes     Category = "post-boxes"
	CategoryCrosswalks    Category = "crosswalks"
	CategoryGuardrails    Category = "guardrails"
	CategoryRoadMarkings  Category = "road-markings"
	CategoryTrafficLights Category = "traffic-lights"
	CategoryHouseNumbers  Category = "house-numbers"
	CategoryFollowCars    Category = "follow-cars"
	CategoryGoogleCars    Category = "google-cars"
	CategoryVegetation    Category = "vegetation"
	CategoryArchitecture  Category = "architecture"
	CategoryRoadSurfaces  Category = "road-surfaces"
	CategoryRoadSigns     Category = "road-signs"
	CategorySpeedLimits   Category = "speed-limits"
	CategoryLanguages     Category = "languages"
	CategoryScripts       Category = "scripts"
)

var allCategories = []Category{
	CategoryBollards,
	CategoryLicensePlates,
	CategoryRoadLines,
	CategoryStreetSigns,
	CategoryUtilityPoles,
	CategoryPhoneBooths,
	CategoryPostBoxes,
	CategoryCrosswalks,
	CategoryGuardrails,
	CategoryRoadMarkings,
	CategoryTrafficLights,
	CategoryHouseNumbers,
	CategoryFollowCars,
	CategoryGoogleCars,
	CategoryVegetation,
	CategoryArchitecture,
	CategoryRoadSurfaces,
	CategoryRoadSigns,
	CategorySpeedLimits,
	CategoryLanguages,
	CategoryScripts,
}

// Categories returns every known category in declaration order.
func Categories() []Category {
	return append([]Category(nil), allCategories...)
}

// ParseCategory validates a category name.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	for _, known := range allCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
}

func (c Category) String() string { return string(c) }

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown names.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Source names a site that images are scraped from.
type Source string

// Known sources.
const (
	SourceGeomastr Source = "geomastr"
	SourceGeohints Source = "geohints"
	SourcePlonkit  Source = "plonkit"
)

var allSources = []Source{SourceGeomastr, SourceGeohints, SourcePlonkit}

// Sources returns every known source.
func Sources() []Source {
	return append([]Source(nil), allSources...)
}

// ParseSource validates a source name.
func ParseSource(raw string) (Source, error) {
	s := Source(strings.TrimSpace(raw))
	for _, known := range allSources {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
}

func (s Source) String() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown names.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var (
	hashPattern    = regexp.MustCompile(`^[a-f0-9]{64}$`)
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	urlPattern     = regexp.MustCompile(`^https?://.+`)
)

// ContentHash is the lowercase hex SHA-256 of an image's original bytes.
type ContentHash string

// ParseContentHash validates a hex digest.
func ParseContentHash(raw string) (ContentHash, error) {
	if !hashPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid content hash %q", raw)
	}
	return ContentHash(raw), nil
}

// Short returns the 8-character prefix used in file names.
func (h ContentHash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

func (h ContentHash) String() string { return string(h) }

// UnmarshalJSON validates the digest while decoding.
func (h *ContentHash) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("content hash: %w", err)
	}
	parsed, err := ParseContentHash(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// CountryCode is an uppercase two-letter country code.
type CountryCode string

// UnknownCountry is used when a page offers no usable country name.
const UnknownCountry CountryCode = "XX"

// ParseCountryCode validates a two-letter code.
func ParseCountryCode(raw string) (CountryCode, error) {
	if !countryPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid country code %q", raw)
	}
	return CountryCode(raw), nil
}

// Lower returns the lowercase form used in paths and keys.
func (c CountryCode) Lower() string { return strings.ToLower(string(c)) }

func (c CountryCode) String() string { return string(c) }

// UnmarshalJSON validates the code while decoding.
func (c *CountryCode) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("country code: %w", err)
	}
	parsed, err := ParseCountryCode(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// URL is an absolute http(s) URL.
type URL string

// ParseURL validates an absolute http(s) URL.
func ParseURL(raw string) (URL, error) {
	if !urlPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	return URL(raw), nil
}

func (u URL) String() string { return string(u) }

// UnmarshalJSON validates the URL while decoding.
func (u *URL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	parsed, err := ParseURL(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Variant identifies one stored rendition of an image.
type Variant string

// Known variants. The original is re-encoded at full size, the rest are
// width buckets.
const (
	VariantOriginal Variant = "original"
	Variant400      Variant = "400w"
	Variant800      Variant = "800w"
	Variant1200     Variant = "1200w"
)

// VariantForWidth returns the variant name for a width bucket.
func VariantForWidth(width int) Variant {
	return Variant(fmt.Sprintf("%dw", width))
}

// Width parses the bucket width out of a sized variant. The original has no
// bucket and reports zero.
func (v Variant) Width() int {
	var w int
	if _, err := fmt.Sscanf(string(v), "%dw", &w); err != nil {
		return 0
	}
	return w
}

// Candidate is one image a parser found on a page.
type Candidate struct {
	Country     string
	CountryCode CountryCode
	ImageURL    URL
	// NeedsReview marks codes that came from the prefix fallback.
	NeedsReview bool
}

// Metadata describes the decoded source image.
type Metadata struct {
	Width  int
	Height int
	Format string
}

// ProcessedImage holds the encoded renditions of one source image.
type ProcessedImage struct {
	Original []byte
	Variants map[Variant][]byte
	Metadata Metadata
}

// ImageKey builds the relative path of a stored rendition:
// {category}/{cc}/{short}-{variant}.{ext}.
func ImageKey(category Category, cc CountryCode, hash ContentHash, variant Variant, ext string) string {
	return fmt.Sprintf("%s/%s/%s-%s.%s", category, cc.Lower(), hash.Short(), variant, ext)
}

// SourceKey builds the relative path of the raw downloaded bytes.
func SourceKey(category Category, cc CountryCode, hash ContentHash, format string) string {
	return fmt.Sprintf("%s/%s/%s-source.%s", category, cc.Lower(), hash.Short(), format)
}
