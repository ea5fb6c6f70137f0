package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/worker"
)

// newProcessCmd creates the 'process' subcommand.
func newProcessCmd() *cobra.Command {
	var (
		category string
		force    bool
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Re-derive WEBP renditions from stored raw downloads",
		Long: `Rebuilds the original and width variants of entries that are not
processed yet or whose derived files are missing. --force re-derives every
selected entry, e.g. after changing image.widths or qualities.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !dryRun {
				if err := appInstance.Lock(); err != nil {
					return err
				}
			}

			stats, err := appInstance.Processor().Run(cmd.Context(), worker.ProcessOptions{
				Category: cat,
				Force:    force,
				DryRun:   dryRun,
			})
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			if stats.Failed > 0 {
				appInstance.GetLogger().Warn("some entries could not be processed", zap.Int("failed", stats.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "limit processing to one category")
	cmd.Flags().BoolVar(&force, "force", false, "re-derive entries that are already complete")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be derived without writing anything")
	return cmd
}
