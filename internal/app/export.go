package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/elchief84/defi-liquidation-keeper/internal/risk"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Export writes the persisted watch-list as CSV and/or renders the risk tier
// distribution as a PNG bar chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("neither database.dsn nor database.snapshot_path configured; nothing to export")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	accounts, err := repo.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		a.Logger.Info().Msg("watch-list empty, nothing to export")
		return nil
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })
	policy := risk.NewPolicy(a.Config.Risk)

	if opts.CSVPath != "" {
		if err := writeWatchlistCSV(opts.CSVPath, accounts, policy); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("accounts", len(accounts)).Msg("csv written")
	}

	if opts.PNGPath != "" {
		if err := writeTierPNG(opts.PNGPath, accounts, policy); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("png written")
	}

	return nil
}

func writeWatchlistCSV(path string, accounts []watchlist.Account, policy risk.Policy) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"address", "collateral_usd", "debt_usd", "liquidation_threshold", "simulated_risk", "tier", "last_synced_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range accounts {
		simulated := risk.SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
		syncedAt := ""
		if rec.Synced() {
			syncedAt = rec.LastSyncedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			rec.Address,
			rec.Collateral.String(),
			rec.Debt.String(),
			rec.LiquidationThreshold.String(),
			simulated.String(),
			policy.Tier(simulated).String(),
			syncedAt,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTierPNG(path string, accounts []watchlist.Account, policy risk.Policy) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	counts := make(map[risk.Tier]int)
	unsynced := 0
	for _, rec := range accounts {
		if !rec.Synced() {
			unsynced++
			continue
		}
		simulated := risk.SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
		counts[policy.Tier(simulated)]++
	}

	tiers := []risk.Tier{risk.TierCritical, risk.TierHigh, risk.TierMedium, risk.TierLow}
	bars := make([]chart.Value, 0, len(tiers)+1)
	for _, tier := range tiers {
		bars = append(bars, chart.Value{Label: tier.String(), Value: float64(counts[tier])})
	}
	bars = append(bars, chart.Value{Label: "UNSYNCED", Value: float64(unsynced)})

	graph := chart.BarChart{
		Title:    "Watch-list risk tiers",
		Width:    1024,
		Height:   576,
		BarWidth: 80,
		Bars:     bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
