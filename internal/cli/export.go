package cli

import (
	"github.com/spf13/cobra"

	"oracle-feeder/internal/app"
)

var (
	exportFrom      uint64
	exportTo        uint64
	exportPNGPath   string
	exportCSVPath   string
	exportMaxRounds int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export submitted prices as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			FromRound: exportFrom,
			ToRound:   exportTo,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxRounds: exportMaxRounds,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Uint64Var(&exportFrom, "from", 0, "First round to export (inclusive)")
	exportCmd.Flags().Uint64Var(&exportTo, "to", 0, "Last round to export (inclusive, defaults to latest)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRounds, "max-rounds", 0, "Maximum rounds to export (defaults to config)")
}
