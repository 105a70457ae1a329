package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Show prints recent dispatch attempts from the audit log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("neither database.dsn nor database.snapshot_path configured; no audit log to show")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	dispatches, err := repo.ListRecentDispatches(ctx, limit)
	if err != nil {
		return err
	}
	if len(dispatches) == 0 {
		fmt.Fprintln(os.Stdout, "no dispatches recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time (UTC)", "Account", "Sim Risk", "Health Factor", "Status", "Tx")

	for _, d := range dispatches {
		table.Append(
			d.CreatedAt.UTC().Format(time.RFC3339),
			d.Account,
			d.SimulatedRisk.StringFixed(4),
			d.HealthFactor.StringFixed(4),
			d.Status,
			d.TxHash,
		)
	}

	return table.Render()
}
