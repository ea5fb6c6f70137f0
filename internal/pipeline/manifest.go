package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ManifestVersion is the schema version written by this tool.
const ManifestVersion = 1

// Entry describes one deduplicated image and its stored renditions.
type Entry struct {
	ID          string             `json:"id"`
	Category    Category           `json:"category"`
	Source      Source             `json:"source"`
	Country     string             `json:"country"`
	CountryCode CountryCode        `json:"countryCode"`
	SourceURL   URL                `json:"sourceUrl"`
	ContentHash ContentHash        `json:"contentHash"`
	Variants    map[Variant]string `json:"variants"`
	ScrapedAt   time.Time          `json:"scrapedAt"`
	Processed   bool               `json:"processed"`
	Uploaded    bool               `json:"uploaded"`
	NeedsReview bool               `json:"needsReview,omitempty"`
}

// EntryID derives the stable identifier of an entry.
func EntryID(category Category, source Source, cc CountryCode, hash ContentHash) string {
	short := string(hash)
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("%s-%s-%s-%s", category, source, cc.Lower(), short)
}

// Validate checks the entry against the manifest schema.
func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if _, err := ParseCategory(string(e.Category)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseSource(string(e.Source)); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(e.Country) == "" {
		errs = append(errs, errors.New("country is required"))
	}
	if _, err := ParseCountryCode(string(e.CountryCode)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseURL(string(e.SourceURL)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseContentHash(string(e.ContentHash)); err != nil {
		errs = append(errs, err)
	}
	if e.ScrapedAt.IsZero() {
		errs = append(errs, errors.New("scrapedAt is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("entry %q: %w", e.ID, errors.Join(errs...))
	}
	return nil
}

// Clone returns a copy that does not share the variants map.
func (e Entry) Clone() Entry {
	if e.Variants != nil {
		variants := make(map[Variant]string, len(e.Variants))
		for k, v := range e.Variants {
			variants[k] = v
		}
		e.Variants = variants
	}
	return e
}

// PublicURL returns the public address of a stored variant, or "" when the
// entry has no such variant.
func (e Entry) PublicURL(baseURL string, variant Variant) string {
	key, ok := e.Variants[variant]
	if !ok {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/" + key
}

// DefaultURL returns the 800w public URL.
func (e Entry) DefaultURL(baseURL string) string {
	return e.PublicURL(baseURL, Variant800)
}

// Srcset renders an HTML srcset attribute covering the sized variants.
func (e Entry) Srcset(baseURL string) string {
	type sized struct {
		width int
		url   string
	}
	var items []sized
	for variant := range e.Variants {
		if w := variant.Width(); w > 0 {
			items = append(items, sized{width: w, url: e.PublicURL(baseURL, variant)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].width < items[j].width })
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s %dw", it.url, it.width))
	}
	return strings.Join(parts, ", ")
}

// Keys returns the relative paths of every stored variant in a stable order.
func (e Entry) Keys() []string {
	keys := make([]string, 0, len(e.Variants))
	for _, key := range e.Variants {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Manifest is the append-only catalog of scraped images. Values are treated
// as immutable: every mutating operation returns a new Manifest.
type Manifest struct {
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
	Entries     []Entry   `json:"entries"`
}

// EmptyManifest returns a manifest with no entries.
func EmptyManifest(now time.Time) Manifest {
	return Manifest{
		Version:     ManifestVersion,
		LastUpdated: now.UTC(),
		Entries:     []Entry{},
	}
}

// Validate checks the manifest schema, including hash uniqueness.
func (m Manifest) Validate() error {
	if m.Version < 1 {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	seen := make(map[ContentHash]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ContentHash]; dup {
			return fmt.Errorf("entry %q: %w: hash %s", e.ID, ErrDuplicate, e.ContentHash)
		}
		seen[e.ContentHash] = struct{}{}
	}
	return nil
}

// Merge returns a manifest holding the existing entries followed by every new
// entry whose hash is not already present. Duplicates within newEntries keep
// the first occurrence. The receiver is not modified.
func (m Manifest) Merge(newEntries []Entry, now time.Time) Manifest {
	out := m.clone()
	seen := make(map[ContentHash]struct{}, len(out.Entries)+len(newEntries))
	for _, e := range out.Entries {
		seen[e.ContentHash] = struct{}{}
	}
	for _, e := range newEntries {
		if _, dup := seen[e.ContentHash]; dup {
			continue
		}
		seen[e.ContentHash] = struct{}{}
		out.Entries = append(out.Entries, e.Clone())
	}
	out.LastUpdated = now.UTC()
	return out
}

// Update returns a manifest in which the entry with the given hash has been
// replaced by fn's result. The boolean reports whether the hash was found.
func (m Manifest) Update(hash ContentHash, fn func(Entry) Entry, now time.Time) (Manifest, bool) {
	out := m.clone()
	for i, e := range out.Entries {
		if e.ContentHash == hash {
			out.Entries[i] = fn(e)
			out.LastUpdated = now.UTC()
			return out, true
		}
	}
	return out, false
}

// HasHash reports whether an entry with the hash exists.
func (m Manifest) HasHash(hash ContentHash) bool {
	_, ok := m.Find(hash)
	return ok
}

// Find returns the entry with the given hash.
func (m Manifest) Find(hash ContentHash) (Entry, bool) {
	for _, e := range m.Entries {
		if e.ContentHash == hash {
			return e, true
		}
	}
	return Entry{}, false
}

// HashSet returns the set of hashes in the manifest.
func (m Manifest) HashSet() map[ContentHash]struct{} {
	set := make(map[ContentHash]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		set[e.ContentHash] = struct{}{}
	}
	return set
}

// ByCategory groups entries by category.
func (m Manifest) ByCategory() map[Category][]Entry {
	out := make(map[Category][]Entry)
	for _, e := range m.Entries {
		out[e.Category] = append(out[e.Category], e)
	}
	return out
}

// BySource groups entries by source.
func (m Manifest) BySource() map[Source][]Entry {
	out := make(map[Source][]Entry)
	for _, e := range m.Entries {
		out[e.Source] = append(out[e.Source], e)
	}
	return out
}

// ByCountry groups entries by country code.
func (m Manifest) ByCountry() map[CountryCode][]Entry {
	out := make(map[CountryCode][]Entry)
	for _, e := range m.Entries {
		out[e.CountryCode] = append(out[e.CountryCode], e)
	}
	return out
}

// CountryCodes returns the distinct country codes in first-seen order.
func (m Manifest) CountryCodes() []CountryCode {
	seen := make(map[CountryCode]struct{})
	var out []CountryCode
	for _, e := range m.Entries {
		if _, ok := seen[e.CountryCode]; ok {
			continue
		}
		seen[e.CountryCode] = struct{}{}
		out = append(out, e.CountryCode)
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (m Manifest) Categories() []Category {
	seen := make(map[Category]struct{})
	var out []Category
	for _, e := range m.Entries {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// Filter returns the entries matching category and country code. Empty
// values match anything.
func (m Manifest) Filter(category Category, cc CountryCode) []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if category != "" && e.Category != category {
			continue
		}
		if cc != "" && e.CountryCode != cc {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (m Manifest) clone() Manifest {
	out := Manifest{
		Version:     m.Version,
		LastUpdated: m.LastUpdated,
		Entries:     make([]Entry, 0, len(m.Entries)),
	}
	if out.Version == 0 {
		out.Version = ManifestVersion
	}
	for _, e := range m.Entries {
		out.Entries = append(out.Entries, e.Clone())
	}
	return out
}
