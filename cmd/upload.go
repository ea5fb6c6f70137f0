package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/worker"
)

// newUploadCmd creates the 'upload' subcommand.
func newUploadCmd() *cobra.Command {
	var (
		category string
		all      bool
		dryRun   bool
		reset    bool
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Publish processed images to the object store",
		Long: `Uploads the derived files of every processed entry not yet uploaded and
marks an entry uploaded once all of its files made it. --reset clears the
uploaded flags of the selection first so everything is sent again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := resolveTarget(category, all)
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
			publisher, err := appInstance.Publisher(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			stats, err := publisher.Run(cmd.Context(), worker.PublishOptions{
				Category: cat,
				DryRun:   dryRun,
				Reset:    reset,
			})
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			if stats.Files.Failed > 0 {
				appInstance.GetLogger().Warn("some files failed to upload; rerun upload to retry them",
					zap.Int("failed", stats.Files.Failed),
					zap.Int("entries_pending", stats.Entries-stats.Uploaded),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category to upload")
	cmd.Flags().BoolVar(&all, "all", false, "upload every category")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would be uploaded without contacting the bucket")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear uploaded flags of the selection before uploading")
	return cmd
}
