package cli

import (
	"github.com/spf13/cobra"

	"github.com/elchief84/defi-liquidation-keeper/internal/app"
)

var (
	exportCSVPath string
	exportPNGPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the watch-list as CSV and/or a risk tier PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath: exportCSVPath,
			PNGPath: exportPNGPath,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
}
