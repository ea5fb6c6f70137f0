// Package parser holds the registry of site parsers and helpers shared by
// them.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/geohints-scraper/internal/country"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// Registry maps sources to their parsers.
type Registry struct {
	parsers map[pipeline.Source]pipeline.Parser
	order   []pipeline.Source
}

// NewRegistry builds a registry from parsers; later parsers replace earlier
// ones with the same source.
func NewRegistry(parsers ...pipeline.Parser) *Registry {
	r := &Registry{parsers: make(map[pipeline.Source]pipeline.Parser)}
	for _, p := range parsers {
		if _, exists := r.parsers[p.Source()]; !exists {
			r.order = append(r.order, p.Source())
		}
		r.parsers[p.Source()] = p
	}
	return r
}

// Get returns the parser for source.
func (r *Registry) Get(source pipeline.Source) (pipeline.Parser, error) {
	p, ok := r.parsers[source]
	if !ok {
		return nil, fmt.Errorf("no parser registered for source %q", source)
	}
	return p, nil
}

// Sources lists the registered sources in registration order.
func (r *Registry) Sources() []pipeline.Source {
	return append([]pipeline.Source(nil), r.order...)
}

// Deduper drops candidates whose image URL was already seen on the page.
type Deduper struct {
	seen map[pipeline.URL]struct{}
	out  []pipeline.Candidate
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[pipeline.URL]struct{})}
}

// Add records c unless its URL was seen before. It reports whether c was kept.
func (d *Deduper) Add(c pipeline.Candidate) bool {
	if _, ok := d.seen[c.ImageURL]; ok {
		return false
	}
	d.seen[c.ImageURL] = struct{}{}
	d.out = append(d.out, c)
	return true
}

// Candidates returns the kept candidates in insertion order.
func (d *Deduper) Candidates() []pipeline.Candidate {
	return d.out
}

// NewCandidate resolves a country name into a candidate. Names missing from
// the alias table are flagged for review.
func NewCandidate(countryName string, imageURL pipeline.URL) pipeline.Candidate {
	name := strings.Join(strings.Fields(countryName), " ")
	if name == "" {
		name = "Unknown"
	}
	code, exact := country.Lookup(name)
	return pipeline.Candidate{
		Country:     name,
		CountryCode: code,
		ImageURL:    imageURL,
		NeedsReview: !exact,
	}
}

// ResolveURL makes src absolute against base and validates the result.
func ResolveURL(base *url.URL, src string) (pipeline.URL, bool) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", false
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	u, err := pipeline.ParseURL(abs.String())
	if err != nil {
		return "", false
	}
	return u, true
}

// FileName returns the unescaped last path segment of raw.
func FileName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// ParseBase parses a configured site base URL.
func ParseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	return u, nil
}
