// Package cmd defines the follower-tracker command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-tracker/internal/config"
	"github.com/JakeFAU/follower-tracker/internal/server"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

type configKeyType struct{}

// App is what the commands need from the built application, so tests can
// swap in a fake.
type App interface {
	Run(ctx context.Context) error
	RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "follower-tracker",
		Short: "Tracks public follower counts of social media profiles.",
		Long: `follower-tracker scrapes public profile pages on a schedule, records a
follower-count time series per channel and sends Web Push notifications
when a channel reaches its goal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, &cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env TRACKER_* overrides it)")

	cmd.AddCommand(newServeCmd(), newRefreshCmd(), newKeygenCmd())
	return cmd
}

// buildApp loads the application for commands that need one.
func buildApp(ctx context.Context) (App, error) {
	cfg, ok := ctx.Value(configKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
