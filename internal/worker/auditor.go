package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// Lister lists remote keys under a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Missing is an entry flagged uploaded whose files are absent remotely.
type Missing struct {
	ID   string
	Hash pipeline.ContentHash
	Keys []string
}

// AuditReport summarizes an audit.
type AuditReport struct {
	Checked    int
	RemoteKeys int
	Missing    []Missing
	Fixed      int
}

// Auditor compares the manifest against the remote bucket.
type Auditor struct {
	store  pipeline.ContentStore
	remote Lister
	clock  pipeline.Clock
	logger *zap.Logger
}

// NewAuditor builds an Auditor.
func NewAuditor(store pipeline.ContentStore, remote Lister, clock pipeline.Clock, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{store: store, remote: remote, clock: clock, logger: logger}
}

// Run reports uploaded entries in category (all categories when empty) with
// at least one file missing remotely. With fix set their uploaded flag is
// cleared so the next upload retries them.
func (a *Auditor) Run(ctx context.Context, category pipeline.Category, fix bool) (AuditReport, error) {
	manifest, err := a.store.ReadManifest(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("load manifest: %w", err)
	}

	categories := manifest.Categories()
	if category != "" {
		categories = []pipeline.Category{category}
	}

	var report AuditReport
	for _, cat := range categories {
		keys, err := a.remote.List(ctx, cat.String()+"/")
		if err != nil {
			return report, fmt.Errorf("list remote %s: %w", cat, err)
		}
		report.RemoteKeys += len(keys)
		remote := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			remote[k] = struct{}{}
		}

		for _, e := range manifest.Filter(cat, "") {
			if !e.Uploaded {
				continue
			}
			report.Checked++
			var missing []string
			for _, key := range e.Keys() {
				if _, ok := remote[key]; !ok {
					missing = append(missing, key)
				}
			}
			if len(missing) == 0 {
				continue
			}
			report.Missing = append(report.Missing, Missing{ID: e.ID, Hash: e.ContentHash, Keys: missing})
			a.logger.Warn("uploaded entry missing remotely", zap.String("id", e.ID), zap.Strings("keys", missing))
		}
	}

	if fix && len(report.Missing) > 0 {
		for _, m := range report.Missing {
			var ok bool
			manifest, ok = manifest.Update(m.Hash, clearUploaded, a.clock.Now())
			if ok {
				report.Fixed++
			}
		}
		if err := a.store.WriteManifest(ctx, manifest); err != nil {
			return report, fmt.Errorf("save manifest: %w", err)
		}
	}

	a.logger.Info("audit complete",
		zap.Int("checked", report.Checked),
		zap.Int("remote_keys", report.RemoteKeys),
		zap.Int("missing", len(report.Missing)),
		zap.Int("fixed", report.Fixed),
	)
	return report, nil
}
