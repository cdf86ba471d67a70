package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

type refreshLine struct {
	ChannelID     string           `json:"channel_id"`
	URL           string           `json:"url"`
	Platform      tracker.Platform `json:"platform,omitempty"`
	FollowerCount *int64           `json:"followerCount"`
	Error         string           `json:"error,omitempty"`
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refreshes every active channel once and prints the results",
		Long: `refresh runs one batch refresh under the same lock the scheduler uses,
printing one JSON line per channel. It exits non-zero when another refresh
holds the lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(context.Background()); cerr != nil {
					app.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			results, err := app.RefreshAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, res := range results {
				line := refreshLine{
					ChannelID:     res.Channel.ID,
					URL:           res.Channel.URL,
					Platform:      res.Extraction.Platform,
					FollowerCount: res.Extraction.FollowerCount,
				}
				if res.Err != nil {
					line.Error = res.Err.Error()
					failed++
				}
				if err := enc.Encode(line); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			app.Logger().Info("refresh finished",
				zap.Int("channels", len(results)),
				zap.Int("failed", failed),
			)
			return nil
		},
	}
}
