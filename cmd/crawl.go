// Package cmd defines and implements the CLI commands for the turbocrawl
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mehdiyevf/turbocrawl/internal/api"
	"github.com/mehdiyevf/turbocrawl/internal/app"
	"github.com/mehdiyevf/turbocrawl/internal/metrics"
	"github.com/mehdiyevf/turbocrawl/internal/telemetry"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It runs one
// crawl over the configured page range, resuming from a checkpoint when one
// exists, and exposes progress over the status server while it works.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the listing crawl",
		Long: `Walks the configured page range of turbo.az, fetches the detail page of
every discovered listing, and writes the extracted records to the configured
sink. SIGINT and SIGTERM checkpoint the run so the next invocation resumes
where this one stopped.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "turbocrawl",
		ServiceVersion: version,
		TraceProjectID: cfg.Telemetry.TraceProjectID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	scheduler := appInstance.Scheduler()

	if cfg.Server.Enabled {
		server := api.NewServer(scheduler.Snapshot, logger.Named("api"))
		go func() {
			if err := server.Serve(ctx, cfg.Server.Addr); err != nil {
				logger.Error("status server", zap.Error(err))
			}
		}()
	}

	result, err := scheduler.Run(ctx)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	logger.Info("crawl finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("pages_discovered", result.PagesDiscovered),
		zap.Int("items_completed", result.ItemsCompleted),
		zap.Int("items_pending", result.ItemsPending),
		zap.Int("items_failed", result.ItemsFailed))
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
