package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

type scrapeOptions struct {
	category string
	all      bool
	source   string
	dryRun   bool
}

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Download new images for one category or all of them",
		Long: `Fetches the category page of a source site, downloads every image not
already in the manifest, and stores the raw bytes with their WEBP
renditions. With --all the categories run one after another and the
manifest is saved after each one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.category, "category", "", "category to scrape")
	cmd.Flags().BoolVar(&opts.all, "all", false, "scrape every category the source supports")
	cmd.Flags().StringVar(&opts.source, "source", pipeline.SourceGeomastr.String(), "site to scrape (geomastr, geohints)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log what would be stored without writing anything")
	return cmd
}

func runScrape(cmd *cobra.Command, opts scrapeOptions) error {
	category, err := resolveTarget(opts.category, opts.all)
	if err != nil {
		return err
	}
	source, err := pipeline.ParseSource(opts.source)
	if err != nil {
		return fmt.Errorf("--source: %w", err)
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if !opts.dryRun {
		if err := appInstance.Lock(); err != nil {
			return err
		}
	}
	logger := appInstance.GetLogger()
	logger.Info("starting scraper",
		zap.String("source", source.String()),
		zap.Bool("all", opts.all),
		zap.String("category", category.String()),
		zap.Bool("dry_run", opts.dryRun),
	)

	if opts.all {
		summary, err := appInstance.Dispatcher(opts.dryRun).ScrapeAll(cmd.Context(), source)
		if err != nil {
			return fmt.Errorf("scrape all: %w", err)
		}
		if summary.Failed > 0 {
			logger.Warn("some categories failed", zap.Int("failed", summary.Failed))
		}
		return nil
	}

	res, err := appInstance.Scraper(opts.dryRun).RunCategory(cmd.Context(), source, category)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", category, err)
	}
	logger.Info("scrape complete",
		zap.String("category", category.String()),
		zap.Int("total", res.Total),
		zap.Int("new_images", res.New),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return nil
}
