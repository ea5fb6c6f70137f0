// Package geomastr parses category pages from geomastr.com.
package geomastr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// DefaultBaseURL is the public site.
const DefaultBaseURL = "https://geomastr.com"

// Image directories that differ from the category slug.
var categoryPaths = map[pipeline.Category]string{
	pipeline.CategoryLicensePlates: "licenseplates",
	pipeline.CategoryRoadLines:     "roadlines",
	pipeline.CategoryStreetSigns:   "streetsigns",
	pipeline.CategoryUtilityPoles:  "utilitypoles",
}

var categories = []pipeline.Category{
	pipeline.CategoryBollards,
	pipeline.CategoryLicensePlates,
	pipeline.CategoryRoadLines,
	pipeline.CategoryStreetSigns,
	pipeline.CategoryUtilityPoles,
	pipeline.CategoryGuardrails,
	pipeline.CategoryRoadMarkings,
}

var slugSuffix = regexp.MustCompile(`\d*\.\w+$`)

// Config locates the site.
type Config struct {
	BaseURL string
}

// Parser implements pipeline.Parser for geomastr.com.
type Parser struct {
	base *url.URL
}

// New builds a Parser.
func New(cfg Config) (*Parser, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := parser.ParseBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{base: base}, nil
}

// Source implements pipeline.Parser.
func (p *Parser) Source() pipeline.Source { return pipeline.SourceGeomastr }

// Categories implements pipeline.Parser.
func (p *Parser) Categories() []pipeline.Category {
	return append([]pipeline.Category(nil), categories...)
}

// PageURL implements pipeline.Parser.
func (p *Parser) PageURL(category pipeline.Category) (string, error) {
	if !p.supports(category) {
		return "", fmt.Errorf("%w: %s on %s", pipeline.ErrUnsupportedCategory, category, p.Source())
	}
	return p.base.ResolveReference(&url.URL{Path: string(category)}).String(), nil
}

func (p *Parser) supports(category pipeline.Category) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

func imagePath(category pipeline.Category) string {
	if p, ok := categoryPaths[category]; ok {
		return p
	}
	return string(category)
}

// Parse implements pipeline.Parser. Country names come from the image file
// names ("united-states2.jpg" is United States). When no image lives under the
// category directory, every non-flag image is returned under an unknown
// country.
func (p *Parser) Parse(html string, category pipeline.Category) ([]pipeline.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &pipeline.ParseError{Source: string(p.Source()), Message: "read html", Err: err}
	}

	dir := imagePath(category)
	mediaDir := "/assets/media/" + dir + "/"
	plainDir := "/" + dir + "/"

	grouped := make(map[pipeline.CountryCode][]pipeline.Candidate)
	var order []pipeline.CountryCode
	dedupe := parser.NewDeduper()
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if !strings.Contains(src, mediaDir) && !strings.Contains(src, plainDir) {
			return
		}
		imageURL, ok := parser.ResolveURL(p.base, src)
		if !ok {
			return
		}
		c := parser.NewCandidate(countryFromFilename(parser.FileName(src)), imageURL)
		if !dedupe.Add(c) {
			return
		}
		if _, seen := grouped[c.CountryCode]; !seen {
			order = append(order, c.CountryCode)
		}
		grouped[c.CountryCode] = append(grouped[c.CountryCode], c)
	})

	var found []pipeline.Candidate
	for _, code := range order {
		found = append(found, grouped[code]...)
	}

	if len(found) == 0 {
		found = p.fallback(doc)
	}
	if len(found) == 0 {
		return nil, &pipeline.ParseError{Source: string(p.Source()), Message: "No country data found in HTML"}
	}
	return found, nil
}

func (p *Parser) fallback(doc *goquery.Document) []pipeline.Candidate {
	dedupe := parser.NewDeduper()
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || strings.Contains(src, "/flags/") {
			return
		}
		imageURL, ok := parser.ResolveURL(p.base, src)
		if !ok {
			return
		}
		dedupe.Add(pipeline.Candidate{
			Country:     "Unknown",
			CountryCode: pipeline.UnknownCountry,
			ImageURL:    imageURL,
			NeedsReview: true,
		})
	})
	return dedupe.Candidates()
}

func countryFromFilename(name string) string {
	slug := slugSuffix.ReplaceAllString(name, "")
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
