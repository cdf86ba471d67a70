package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/follower-tracker/internal/push"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "vapid-keygen",
		Short:       "Prints a fresh VAPID key pair as JSON",
		Annotations: map[string]string{skipConfig: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := push.GenerateKeys()
			if err != nil {
				return fmt.Errorf("generate keys: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(keys)
		},
	}
}
