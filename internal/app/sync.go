package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/elchief84/defi-liquidation-keeper/internal/risk"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Sync runs a one-shot full resync of the watch-list: optionally refill from
// the subgraph, then query every account once and persist the results. No
// triggers fire; this is the offline counterpart of the scan loop used to warm
// a fresh store or repair a stale one.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("neither database.dsn nor database.snapshot_path configured; nothing to sync into")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	pool, err := a.newPool()
	if err != nil {
		return err
	}
	reader, err := a.newReader(pool)
	if err != nil {
		return err
	}

	state := watchlist.NewState()
	if err := a.loadState(ctx, repo, state); err != nil {
		return err
	}

	if opts.Discover {
		added, err := a.newFeed().Refill(ctx, state)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("discovery failed, syncing existing records only")
		} else {
			a.Logger.Info().Int("added", added).Msg("discovery complete")
		}
	}

	accounts := state.Snapshot()
	if len(accounts) == 0 {
		a.Logger.Info().Msg("watch-list empty, nothing to sync")
		return nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = a.Config.Engine.Workers
	}
	limiter := rate.NewLimiter(rate.Limit(a.Config.Engine.QueriesPerSec), a.Config.Engine.QueryBurst)

	var synced, removed, failed atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for _, rec := range accounts {
		if ctx.Err() != nil {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(rec watchlist.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			data, err := reader.AccountData(ctx, rec.Address)
			if err != nil {
				failed.Add(1)
				a.Logger.Warn().Err(err).Str("account", rec.Address).Msg("sync query failed")
				return
			}

			if data.Debt.IsZero() {
				state.Delete(rec.Address)
				if err := repo.DeleteAccount(ctx, rec.Address); err != nil {
					a.Logger.Warn().Err(err).Str("account", rec.Address).Msg("delete failed")
				}
				removed.Add(1)
				return
			}

			rec.Collateral = data.Collateral
			rec.Debt = data.Debt
			rec.LiquidationThreshold = data.LiquidationThreshold
			rec.LastSyncedAt = time.Now().UTC()
			state.Upsert(rec)
			if err := repo.UpsertAccount(ctx, rec); err != nil {
				a.Logger.Warn().Err(err).Str("account", rec.Address).Msg("persist failed")
				failed.Add(1)
				return
			}

			simulated := risk.SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
			a.Logger.Debug().
				Str("account", rec.Address).
				Str("simulated_risk", simulated.StringFixed(4)).
				Msg("account synced")
			synced.Add(1)
		}(rec)
	}

	wg.Wait()

	a.Logger.Info().
		Int64("synced", synced.Load()).
		Int64("removed", removed.Load()).
		Int64("failed", failed.Load()).
		Msg("sync complete")

	if failed.Load() > 0 {
		return errors.New("some accounts failed to sync; see log for details")
	}
	return ctx.Err()
}
