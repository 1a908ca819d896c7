package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/app"
	"github.com/mehdiyevf/turbocrawl/internal/config"
	"github.com/mehdiyevf/turbocrawl/internal/logging"
	pkgconfig "github.com/mehdiyevf/turbocrawl/pkg/config"
)

// version is stamped by the release build; the default marks dev builds.
var version = "dev"

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can swap in
// a factory that returns a canned app.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. Config loading, logger
// setup, and service wiring all happen in PersistentPreRunE so every
// subcommand finds a ready app in its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turbocrawl",
		Short: "A resumable crawler for turbo.az vehicle listings.",
		Long: `turbocrawl walks the turbo.az listing pages, fetches every advertised
vehicle in the configured page range, and persists the extracted records.
Interrupted runs pick up from the last checkpoint instead of starting over.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := pkgconfig.New(cfgFile)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/turbocrawl, $HOME/.turbocrawl)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "turbocrawl: %v\n", err)
		os.Exit(1)
	}
}
