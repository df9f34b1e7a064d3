package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"oracle-feeder/internal/app"
)

var verifyLimit int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute stored commitment hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Verify(cmd.Context(), app.VerifyOptions{Limit: verifyLimit})
	},
}

func init() {
	verifyCmd.Flags().IntVar(&verifyLimit, "limit", 100, "Number of recent rounds to verify")
}
