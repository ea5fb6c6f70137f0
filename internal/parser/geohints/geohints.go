// Package geohints parses category pages from geohints.com.
package geohints

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

const (
	// DefaultBaseURL is the public site.
	DefaultBaseURL = "https://geohints.com"
	// DefaultCDNURL serves the site's uploaded images.
	DefaultCDNURL = "https://ocsc00skc0wokcs8kw8g8k84.geohints.com/storage"

	countrySpan = "span.font-bold"
)

var categoryPaths = map[pipeline.Category]string{
	pipeline.CategoryBollards:      "bollards",
	pipeline.CategoryLicensePlates: "licensePlates",
	pipeline.CategoryRoadLines:     "lines",
	pipeline.CategoryStreetSigns:   "signs",
	pipeline.CategoryUtilityPoles:  "utilityPoles",
	pipeline.CategoryPhoneBooths:   "phoneNumbers",
	pipeline.CategoryPostBoxes:     "postBoxes",
	pipeline.CategoryTrafficLights: "trafficLights",
	pipeline.CategoryHouseNumbers:  "houseNumbers",
	pipeline.CategoryFollowCars:    "followCars",
	pipeline.CategoryGoogleCars:    "googleVehicles/cars",
	pipeline.CategoryArchitecture:  "architecture",
	pipeline.CategoryScripts:       "languages",
	pipeline.CategoryLanguages:     "languages",
	pipeline.CategorySpeedLimits:   "signs/speed",
}

// categories scraped by a full run.
var categories = []pipeline.Category{
	pipeline.CategoryBollards,
	pipeline.CategoryLicensePlates,
	pipeline.CategoryRoadLines,
	pipeline.CategoryUtilityPoles,
	pipeline.CategoryPostBoxes,
	pipeline.CategoryTrafficLights,
	pipeline.CategoryHouseNumbers,
	pipeline.CategoryFollowCars,
	pipeline.CategoryArchitecture,
}

var filenameCountry = regexp.MustCompile(`^([A-Za-z_]+)(?:_\d+)?\.`)

// Config locates the site.
type Config struct {
	BaseURL string
	CDNURL  string
}

// Parser implements pipeline.Parser for geohints.com.
type Parser struct {
	base   *url.URL
	cdnURL string
}

// New builds a Parser, filling empty fields with the public site.
func New(cfg Config) (*Parser, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = DefaultCDNURL
	}
	base, err := parser.ParseBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{base: base, cdnURL: strings.TrimRight(cfg.CDNURL, "/")}, nil
}

// Source implements pipeline.Parser.
func (p *Parser) Source() pipeline.Source { return pipeline.SourceGeohints }

// Categories implements pipeline.Parser.
func (p *Parser) Categories() []pipeline.Category {
	return append([]pipeline.Category(nil), categories...)
}

// PageURL implements pipeline.Parser.
func (p *Parser) PageURL(category pipeline.Category) (string, error) {
	sitePath, ok := categoryPaths[category]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", pipeline.ErrUnsupportedCategory, category, p.Source())
	}
	return p.base.ResolveReference(&url.URL{Path: "meta/" + sitePath}).String(), nil
}

// Parse implements pipeline.Parser. Images hosted on the CDN or under
// /storage/ are taken first; remaining images whose path mentions the
// category path are then rewritten onto the CDN.
func (p *Parser) Parse(html string, category pipeline.Category) ([]pipeline.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &pipeline.ParseError{Source: string(p.Source()), Message: "read html", Err: err}
	}

	dedupe := parser.NewDeduper()
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := imageSource(img)
		if src == "" || (!strings.Contains(src, p.cdnURL) && !strings.Contains(src, "/storage/")) {
			return
		}
		imageURL, ok := parser.ResolveURL(p.base, src)
		if !ok {
			return
		}
		dedupe.Add(parser.NewCandidate(countryFor(img, src), imageURL))
	})

	if sitePath, ok := categoryPaths[category]; ok {
		selector := fmt.Sprintf(`img[src*=%q], img[data-src*=%q]`, sitePath, sitePath)
		doc.Find(selector).Each(func(_ int, img *goquery.Selection) {
			src := imageSource(img)
			if src == "" || strings.Contains(src, p.cdnURL) || strings.Contains(src, "/storage/") {
				return
			}
			name := parser.FileName(src)
			if name == "" {
				return
			}
			imageURL, err := pipeline.ParseURL(p.cdnURL + "/" + sitePath + "/" + name)
			if err != nil {
				return
			}
			dedupe.Add(parser.NewCandidate(countryFromSlug(name), imageURL))
		})
	}

	found := dedupe.Candidates()
	if len(found) == 0 {
		return nil, &pipeline.ParseError{Source: string(p.Source()), Message: "No images found in HTML"}
	}
	return found, nil
}

func imageSource(img *goquery.Selection) string {
	if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	src, _ := img.Attr("data-src")
	return strings.TrimSpace(src)
}

// countryFor looks for a label near the image, from closest to loosest, and
// falls back to the file name.
func countryFor(img *goquery.Selection, src string) string {
	lookups := []func() *goquery.Selection{
		func() *goquery.Selection { return img.SiblingsFiltered(countrySpan).First() },
		func() *goquery.Selection { return img.PrevFiltered(countrySpan) },
		func() *goquery.Selection { return img.Parent().Find(countrySpan).First() },
		func() *goquery.Selection { return img.Closest("section, div").Find("h2, h3, h4").First() },
	}
	for _, lookup := range lookups {
		if text := strings.TrimSpace(lookup().Text()); text != "" {
			return text
		}
	}
	return countryFromFilename(parser.FileName(src))
}

func countryFromFilename(name string) string {
	m := filenameCountry.FindStringSubmatch(name)
	if m == nil {
		return "Unknown"
	}
	return strings.ReplaceAll(m[1], "_", " ")
}

func countryFromSlug(name string) string {
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	return strings.NewReplacer("-", " ", "_", " ").Replace(name)
}
