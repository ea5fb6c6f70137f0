package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

const topCountries = 10

type tally struct {
	Name  string
	Count int
}

// manifestStats is the summary printed by 'stats'.
type manifestStats struct {
	Version         int
	LastUpdated     time.Time
	Total           int
	Processed       int
	Uploaded        int
	NeedsReview     int
	ByCategory      []tally
	BySource        []tally
	TopCountries    []tally
	UniqueCountries int
}

// newStatsCmd creates the 'stats' subcommand.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			m, err := appInstance.Manifest(cmd.Context())
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			renderStats(cmd.OutOrStdout(), collectStats(m))
			return nil
		},
	}
}

func collectStats(m pipeline.Manifest) manifestStats {
	s := manifestStats{
		Version:         m.Version,
		LastUpdated:     m.LastUpdated,
		Total:           len(m.Entries),
		UniqueCountries: len(m.CountryCodes()),
	}
	for _, e := range m.Entries {
		if e.Processed {
			s.Processed++
		}
		if e.Uploaded {
			s.Uploaded++
		}
		if e.NeedsReview {
			s.NeedsReview++
		}
	}

	byCategory := m.ByCategory()
	for _, c := range m.Categories() {
		s.ByCategory = append(s.ByCategory, tally{Name: c.String(), Count: len(byCategory[c])})
	}
	for source, entries := range m.BySource() {
		s.BySource = append(s.BySource, tally{Name: source.String(), Count: len(entries)})
	}
	sortTallies(s.BySource)

	var countries []tally
	for cc, entries := range m.ByCountry() {
		countries = append(countries, tally{Name: cc.String(), Count: len(entries)})
	}
	sortTallies(countries)
	if len(countries) > topCountries {
		countries = countries[:topCountries]
	}
	s.TopCountries = countries
	return s
}

// sortTallies orders by count descending, then name.
func sortTallies(ts []tally) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Count != ts[j].Count {
			return ts[i].Count > ts[j].Count
		}
		return ts[i].Name < ts[j].Name
	})
}

func renderStats(w io.Writer, s manifestStats) {
	overview := newTable(w, "Manifest")
	overview.AppendRows([]table.Row{
		{"Version", s.Version},
		{"Last updated", s.LastUpdated.Format(time.RFC3339)},
		{"Entries", s.Total},
		{"Processed", s.Processed},
		{"Uploaded", s.Uploaded},
		{"Needs review", s.NeedsReview},
		{"Unique countries", s.UniqueCountries},
	})
	overview.Render()

	renderTallies(w, "By category", "Category", s.ByCategory)
	renderTallies(w, "By source", "Source", s.BySource)

	countries := newTable(w, "Top countries")
	countries.AppendHeader(table.Row{"Country", "Images"})
	for _, t := range s.TopCountries {
		countries.AppendRow(table.Row{t.Name, t.Count})
	}
	if more := s.UniqueCountries - len(s.TopCountries); more > 0 {
		countries.AppendFooter(table.Row{fmt.Sprintf("... and %d more", more), ""})
	}
	countries.Render()
}

func renderTallies(w io.Writer, title, label string, ts []tally) {
	t := newTable(w, title)
	t.AppendHeader(table.Row{label, "Images"})
	for _, row := range ts {
		t.AppendRow(table.Row{row.Name, row.Count})
	}
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.Style().Title.Align = text.AlignLeft
	return t
}
