// Package cmd defines and implements the CLI commands for the geohints
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geohints-scraper/internal/app"
	"github.com/JakeFAU/geohints-scraper/internal/dispatcher"
	"github.com/JakeFAU/geohints-scraper/internal/logging"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services the commands use.
type App interface {
	Close()
	GetLogger() *zap.Logger
	Lock() error
	Manifest(ctx context.Context) (pipeline.Manifest, error)
	Scraper(dryRun bool) *worker.Scraper
	Dispatcher(dryRun bool) *dispatcher.Dispatcher
	Processor() *worker.Processor
	Publisher(ctx context.Context, dryRun bool) (*worker.Publisher, error)
	Auditor(ctx context.Context) (*worker.Auditor, error)
}

// newApp is the application factory. It's a variable so tests can replace
// it.
var newApp = func(ctx context.Context, configPath string) (App, error) {
	return app.Load(ctx, configPath)
}

// session owns the App built for one invocation.
type session struct {
	app App
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd(s *session) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "geohints",
		Short: "Scrape, transcode and publish GeoGuessr hint images.",
		Long: `geohints collects reference images (bollards, license plates, road
lines and more) from community GeoGuessr hint sites, deduplicates them by
content, renders responsive WEBP variants and publishes them to an object
store. Every run reads and updates {output_dir}/manifest.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application and injects it before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults and environment only when empty)")

	cmd.AddCommand(
		newScrapeCmd(),
		newProcessCmd(),
		newUploadCmd(),
		newAuditCmd(),
		newStatsCmd(),
	)
	return cmd
}

// run executes the CLI with args. The App is closed even when the
// subcommand fails, which Cobra's post-run hook does not cover.
func run(ctx context.Context, args []string, out io.Writer) error {
	s := &session{}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err == nil {
		return
	}

	logger, lerr := logging.New(logging.Options{})
	if lerr != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	logger.Fatal("Command execution failed", zap.Error(err))
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// parseCategory resolves an optional --category value.
func parseCategory(raw string) (pipeline.Category, error) {
	if raw == "" {
		return "", nil
	}
	category, err := pipeline.ParseCategory(raw)
	if err != nil {
		return "", fmt.Errorf("--category: %w", err)
	}
	return category, nil
}

// resolveTarget enforces that exactly one of --category and --all is given.
func resolveTarget(raw string, all bool) (pipeline.Category, error) {
	switch {
	case raw != "" && all:
		return "", errors.New("specify either --category <name> or --all, not both")
	case raw == "" && !all:
		return "", errors.New("please specify --category <name> or --all")
	}
	return parseCategory(raw)
}
