package cli

import (
	"github.com/spf13/cobra"

	"github.com/elchief84/defi-liquidation-keeper/internal/app"
)

var (
	syncWorkers  int
	syncDiscover bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Resync every watched account once and persist the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SyncOptions{
			Workers:  syncWorkers,
			Discover: syncDiscover,
		}

		return getApp().Sync(cmd.Context(), opts)
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "Concurrent query workers (defaults to config)")
	syncCmd.Flags().BoolVar(&syncDiscover, "discover", true, "Refill the watch-list from the subgraph before syncing")
}
