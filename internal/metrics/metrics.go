// Package metrics exposes Prometheus collectors for the scrape pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeNew       = "new"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeSuccess   = "success"
	OutcomeSkipped   = "skipped"
)

// Recorder owns a private registry so repeated construction in tests does not
// collide with the default registerer. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	images        *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	uploads       *prometheus.CounterVec
	categories    *prometheus.CounterVec
	pacingDelay   prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		images: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geohints_images_total",
				Help: "Images handled during scraping, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geohints_fetch_total",
				Help: "HTTP fetch attempts, labeled by kind (html, image) and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geohints_fetch_duration_seconds",
				Help:    "Histogram of fetch attempt latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geohints_uploads_total",
				Help: "Files handled by the uploader, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		categories: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geohints_categories_total",
				Help: "Category scrapes, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		pacingDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geohints_pacing_delay_seconds",
				Help:    "Histogram of time spent waiting on request pacing.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		),
	}
	reg.MustRegister(r.images, r.fetches, r.fetchDuration, r.uploads, r.categories, r.pacingDelay)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveImage counts one image outcome.
func (r *Recorder) ObserveImage(category, outcome string) {
	if r == nil {
		return
	}
	r.images.WithLabelValues(category, outcome).Inc()
}

// ObserveFetch counts one fetch attempt and its latency.
func (r *Recorder) ObserveFetch(kind, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(kind, outcome).Inc()
	r.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveUpload counts one upload outcome.
func (r *Recorder) ObserveUpload(outcome string) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(outcome).Inc()
}

// ObserveCategory counts one category scrape.
func (r *Recorder) ObserveCategory(outcome string) {
	if r == nil {
		return
	}
	r.categories.WithLabelValues(outcome).Inc()
}

// ObservePacing records a pacing wait.
func (r *Recorder) ObservePacing(_ string, waited time.Duration) {
	if r == nil {
		return
	}
	r.pacingDelay.Observe(waited.Seconds())
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
