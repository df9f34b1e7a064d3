package cli

import (
	"github.com/spf13/cobra"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check signer, chain and price source readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Preflight(cmd.Context())
	},
}
