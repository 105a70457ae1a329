package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/elchief84/defi-liquidation-keeper/internal/alerting"
	"github.com/elchief84/defi-liquidation-keeper/internal/chain"
	"github.com/elchief84/defi-liquidation-keeper/internal/config"
	"github.com/elchief84/defi-liquidation-keeper/internal/discovery"
	"github.com/elchief84/defi-liquidation-keeper/internal/engine"
	"github.com/elchief84/defi-liquidation-keeper/internal/risk"
	"github.com/elchief84/defi-liquidation-keeper/internal/rpc"
	"github.com/elchief84/defi-liquidation-keeper/internal/scheduler"
	"github.com/elchief84/defi-liquidation-keeper/internal/storage"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPool() (*rpc.Pool, error) {
	return rpc.NewPool(rpc.Options{
		URLs:   a.Config.Chain.RPCURLs,
		Strict: a.Config.Chain.StrictFailover,
	}, a.Logger)
}

func (a *App) newReader(pool *rpc.Pool) (*chain.Reader, error) {
	return chain.NewReader(chain.ReaderOptions{
		PoolAddress: a.Config.Chain.PoolAddress,
		Timeout:     a.Config.Chain.RequestTimeout,
	}, pool, a.Logger)
}

func (a *App) newOracle(pool *rpc.Pool) (*chain.Oracle, error) {
	return chain.NewOracle(chain.OracleOptions{
		OracleAddress: a.Config.Chain.OracleAddress,
		Timeout:       a.Config.Chain.RequestTimeout,
	}, pool, a.Logger)
}

func (a *App) newDispatcher(pool *rpc.Pool) (*chain.FlashLoanDispatcher, error) {
	return chain.NewFlashLoanDispatcher(chain.DispatcherOptions{
		ContractAddress: a.Config.Chain.ContractAddress,
		DebtAsset:       a.Config.Chain.DebtAsset,
		CollateralAsset: a.Config.Chain.CollateralAsset,
		DebtDecimals:    a.Config.Chain.DebtDecimals,
		Notional:        a.Config.Chain.FlashLoanNotional,
		GasLimit:        a.Config.Chain.DispatchGasLimit,
		ChainID:         a.Config.Chain.ChainID,
		PrivateKey:      a.Config.Chain.PrivateKey,
		Timeout:         a.Config.Chain.RequestTimeout,
	}, pool, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	tg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newFeed() *discovery.Feed {
	return discovery.NewFeed(discovery.Options{
		SubgraphURL:   a.Config.Discovery.SubgraphURL,
		DebtSymbol:    a.Config.Chain.DebtSymbol,
		LowWatermark:  a.Config.Discovery.LowWatermark,
		HighWatermark: a.Config.Discovery.HighWatermark,
		Timeout:       a.Config.Discovery.RequestTimeout,
		UserAgent:     a.Config.App.Name,
	}, a.Logger)
}

// openRepository prefers PostgreSQL, falls back to the JSON snapshot file,
// and returns nil when neither is configured (memory-only operation).
func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	if a.Config.Database.DSN != "" {
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		pg := storage.NewPostgres(pool)
		return pg, pg.Close, nil
	}

	if a.Config.Database.SnapshotPath != "" {
		file, err := storage.NewFile(a.Config.Database.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := file.Flush(); err != nil {
				a.Logger.Error().Err(err).Msg("final snapshot flush failed")
			}
		}
		return file, closer, nil
	}

	return nil, nil, nil
}

// loadState seeds the in-memory state from the repository.
func (a *App) loadState(ctx context.Context, repo storage.Repository, state *watchlist.State) error {
	if repo == nil {
		return nil
	}

	accounts, err := repo.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, rec := range accounts {
		state.Upsert(rec)
	}

	cooldowns, err := repo.LoadCooldowns(ctx)
	if err != nil {
		return fmt.Errorf("load cooldowns: %w", err)
	}
	for addr, at := range cooldowns {
		state.SetCooldown(addr, at)
	}

	a.Logger.Info().Int("accounts", len(accounts)).Int("cooldowns", len(cooldowns)).Msg("state restored")
	return nil
}

// Run executes the long-running keeper service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := a.newPool()
	if err != nil {
		return err
	}
	reader, err := a.newReader(pool)
	if err != nil {
		return err
	}
	oracle, err := a.newOracle(pool)
	if err != nil {
		return err
	}
	dispatcher, err := a.newDispatcher(pool)
	if err != nil {
		return err
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		a.Logger.Warn().Msg("no database or snapshot configured; state will not survive restarts")
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	if pg, ok := repo.(*storage.Postgres); ok && a.Config.Database.AdvisoryLockKey != 0 {
		unlock, acquired, lockErr := pg.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return errors.New("advisory lock held elsewhere; another keeper instance is running")
		}
		defer unlock()
	}

	state := watchlist.NewState()
	if err := a.loadState(ctx, repo, state); err != nil {
		// A cold start with an unreachable store is still a start; the
		// engine runs memory-only until it recovers.
		a.Logger.Error().Err(err).Msg("state restore failed, starting empty")
	}

	notifier := a.newNotifier()
	policy := risk.NewPolicy(a.Config.Risk)
	feed := a.newFeed()

	eng := engine.New(engine.Options{
		BatchSize:       a.Config.Engine.BatchSize,
		Workers:         a.Config.Engine.Workers,
		QueriesPerSec:   a.Config.Engine.QueriesPerSec,
		QueryBurst:      a.Config.Engine.QueryBurst,
		Cooldown:        a.Config.Engine.Cooldown,
		CollateralAsset: a.Config.Chain.CollateralAsset,
	}, state, policy, reader, oracle, dispatcher, repo, notifier, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Engine.ScanInterval,
		StartupDelay: a.Config.Engine.StartupDelay,
	}, a.Logger)

	heads := chain.NewHeadWatcher(pool, state, a.Config.Engine.HeartbeatEvery, a.Logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		heads.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.discoveryLoop(ctx, feed, state, notifier)
	}()

	if file, ok := repo.(*storage.File); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.snapshotLoop(ctx, file)
		}()
	}

	if notifier != nil && a.Config.Alerting.Telegram.PollCommands {
		tg := a.Config.Alerting.Telegram
		poller := alerting.NewCommandPoller(tg.BotToken, tg.ChatID, tg.APIBase, tg.PollTimeout, notifier, eng, a.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	if notifier != nil {
		if err := notifier.Notify(ctx, alerting.Event{Kind: alerting.EventStartup, Message: "systems operational", At: time.Now().UTC()}); err != nil {
			a.Logger.Warn().Err(err).Msg("startup notification failed")
		}
	}

	a.Logger.Info().
		Int("endpoints", pool.Size()).
		Int("watchlist", state.Count()).
		Int64("chain_id", a.Config.Chain.ChainID).
		Msg("starting keeper")

	err = sched.Run(ctx, eng.Tick)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("keeper terminated with error")
		return err
	}
	a.Logger.Info().Msg("keeper stopped")
	return nil
}

// discoveryLoop refills the watch-list on its own cadence. An initial refill
// runs immediately so a cold start has targets before the first scan.
func (a *App) discoveryLoop(ctx context.Context, feed *discovery.Feed, state *watchlist.State, notifier alerting.Notifier) {
	interval := a.Config.Discovery.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	run := func() {
		added, err := feed.Refill(ctx, state)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("discovery failed, retrying next cycle")
			return
		}
		if added > 0 && notifier != nil {
			event := alerting.Event{
				Kind:    alerting.EventDiscovery,
				Message: fmt.Sprintf("watch-list refilled: +%d targets (%d total)", added, state.Count()),
				At:      time.Now().UTC(),
			}
			if err := notifier.Notify(ctx, event); err != nil {
				a.Logger.Warn().Err(err).Msg("discovery notification failed")
			}
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// snapshotLoop periodically flushes the JSON snapshot; critical writes
// (cooldowns, dispatches) flush inline in the store itself.
func (a *App) snapshotLoop(ctx context.Context, file *storage.File) {
	every := a.Config.Database.SnapshotEvery
	if every <= 0 {
		every = 2 * time.Minute
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := file.Flush(); err != nil {
				a.Logger.Error().Err(err).Msg("snapshot flush failed")
			}
		}
	}
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions configure the export command.
type ExportOptions struct {
	CSVPath string
	PNGPath string
}

// SyncOptions configure the one-shot resync command.
type SyncOptions struct {
	Workers  int
	Discover bool
}
