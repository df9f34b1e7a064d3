package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"oracle-feeder/internal/app"
)

var (
	showLimit  int
	showSince  time.Duration
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent vote rounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Since:  showSince,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rounds to display")
	showCmd.Flags().DurationVar(&showSince, "since", 0, "List all rounds recorded within this window, e.g. 24h")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Also list recent alerts")
}
