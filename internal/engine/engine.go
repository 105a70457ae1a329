package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/elchief84/defi-liquidation-keeper/internal/alerting"
	"github.com/elchief84/defi-liquidation-keeper/internal/chain"
	"github.com/elchief84/defi-liquidation-keeper/internal/risk"
	"github.com/elchief84/defi-liquidation-keeper/internal/storage"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Outcome is the terminal state of one account scan.
type Outcome int

const (
	// OutcomeSkipped: a remote query failed; cached state untouched, the
	// account is retried on its natural cadence.
	OutcomeSkipped Outcome = iota
	// OutcomeSafe: fresh estimate above the action threshold.
	OutcomeSafe
	// OutcomeRemoved: debt returned to zero, record dropped.
	OutcomeRemoved
	// OutcomeCoolingDown: estimate was unsafe but a live cooldown entry
	// suppressed the trigger path.
	OutcomeCoolingDown
	// OutcomeCleared: authoritative confirmation contradicted the local
	// estimate; no dispatch, no cooldown.
	OutcomeCleared
	// OutcomeDispatched: confirmation held and the on-chain action was
	// initiated (whether or not submission ultimately succeeded).
	OutcomeDispatched
)

// String implements fmt.Stringer for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeSafe:
		return "safe"
	case OutcomeRemoved:
		return "removed"
	case OutcomeCoolingDown:
		return "cooling_down"
	case OutcomeCleared:
		return "cleared"
	case OutcomeDispatched:
		return "dispatched"
	default:
		return "skipped"
	}
}

// Options tune the trigger engine.
type Options struct {
	BatchSize       int
	Workers         int
	QueriesPerSec   float64
	QueryBurst      int
	Cooldown        time.Duration
	CollateralAsset string
}

// Engine is the control loop: each tick it selects a bounded batch of
// accounts due for refresh, re-verifies them through the failover client, and
// walks unsafe ones through confirmation, cooldown, and dispatch.
type Engine struct {
	opts     Options
	state    *watchlist.State
	policy   risk.Policy
	reader   chain.AccountReader
	oracle   chain.PriceSource
	dispatch chain.Dispatcher
	repo     storage.Repository
	notifier alerting.Notifier
	limiter  *rate.Limiter
	logger   zerolog.Logger

	dispatched   atomic.Int64
	repoDegraded atomic.Bool
}

// New constructs the trigger engine. repo and notifier may be nil; the engine
// then runs memory-only and silent respectively.
func New(opts Options, state *watchlist.State, policy risk.Policy, reader chain.AccountReader, oracle chain.PriceSource, dispatcher chain.Dispatcher, repo storage.Repository, notifier alerting.Notifier, logger zerolog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueriesPerSec <= 0 {
		opts.QueriesPerSec = 20
	}
	if opts.QueryBurst <= 0 {
		opts.QueryBurst = 10
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}

	return &Engine{
		opts:     opts,
		state:    state,
		policy:   policy,
		reader:   reader,
		oracle:   oracle,
		dispatch: dispatcher,
		repo:     repo,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(opts.QueriesPerSec), opts.QueryBurst),
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Tick executes one scan pass. Every failure inside is absorbed: the tick
// loop must survive all error classes.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	if e.state.Paused() {
		e.logger.Debug().Msg("paused, skipping tick")
		return nil
	}

	e.refreshPrice(ctx)
	if e.state.Price().IsZero() {
		e.logger.Warn().Msg("collateral price unknown, skipping scan")
		return nil
	}

	if pruned := e.state.PruneCooldowns(e.opts.Cooldown, now); pruned > 0 {
		e.logger.Info().Int("pruned", pruned).Msg("cooldown entries expired")
		e.persist(ctx, func(ctx context.Context, repo storage.Repository) error {
			return repo.PruneCooldowns(ctx, now.Add(-e.opts.Cooldown))
		})
	}

	batch := e.selectBatch(now)
	if len(batch) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, e.opts.Workers)
		counters [6]atomic.Int64
	)

	for _, rec := range batch {
		rec := rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := e.limiter.Wait(ctx); err != nil {
				return
			}

			outcome, err := e.ProcessAccount(ctx, rec, time.Now().UTC())
			if err != nil {
				e.logger.Debug().Err(err).Str("account", rec.Address).Msg("scan skipped")
			}
			counters[outcome].Add(1)
		}()
	}
	wg.Wait()

	e.logger.Info().
		Int("batch", len(batch)).
		Int64("safe", counters[OutcomeSafe].Load()).
		Int64("removed", counters[OutcomeRemoved].Load()).
		Int64("cooling", counters[OutcomeCoolingDown].Load()).
		Int64("cleared", counters[OutcomeCleared].Load()).
		Int64("dispatched", counters[OutcomeDispatched].Load()).
		Int64("skipped", counters[OutcomeSkipped].Load()).
		Msg("scan complete")
	return nil
}

// refreshPrice polls the oracle once per tick; price gates the whole
// simulation pass, so failures only delay scanning, never crash it.
func (e *Engine) refreshPrice(ctx context.Context) {
	price, err := e.oracle.AssetPrice(ctx, e.opts.CollateralAsset)
	if err != nil {
		e.logger.Warn().Err(err).Msg("oracle price refresh failed")
		return
	}
	e.state.SetPrice(price)
}

// selectBatch picks up to BatchSize refresh-due accounts, nearest-to-danger
// first so the query budget lands where it matters.
func (e *Engine) selectBatch(now time.Time) []watchlist.Account {
	due := make([]watchlist.Account, 0, e.opts.BatchSize)
	for _, rec := range e.state.Snapshot() {
		if e.policy.ShouldRefresh(rec, now) {
			due = append(due, rec)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return e.urgency(due[i]).LessThan(e.urgency(due[j]))
	})

	if len(due) > e.opts.BatchSize {
		due = due[:e.opts.BatchSize]
	}
	return due
}

// urgency orders accounts for batch selection. Unsynced records sit just
// above the action threshold: behind anything already known to be critical,
// ahead of the comfortably safe.
func (e *Engine) urgency(rec watchlist.Account) decimal.Decimal {
	if !rec.Synced() {
		return e.policy.ActionThreshold()
	}
	return risk.SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
}

// ProcessAccount runs the per-account state machine once: sync the estimate
// fields, then confirm and trigger if the estimate crosses the action
// threshold. Any query failure leaves cached state untouched.
func (e *Engine) ProcessAccount(ctx context.Context, rec watchlist.Account, now time.Time) (Outcome, error) {
	data, err := e.reader.AccountData(ctx, rec.Address)
	if err != nil {
		return OutcomeSkipped, err
	}

	if data.Debt.IsZero() {
		e.state.Delete(rec.Address)
		e.persist(ctx, func(ctx context.Context, repo storage.Repository) error {
			return repo.DeleteAccount(ctx, rec.Address)
		})
		return OutcomeRemoved, nil
	}

	rec.Collateral = data.Collateral
	rec.Debt = data.Debt
	rec.LiquidationThreshold = data.LiquidationThreshold
	rec.LastSyncedAt = now
	e.state.Upsert(rec)
	e.persist(ctx, func(ctx context.Context, repo storage.Repository) error {
		return repo.UpsertAccount(ctx, rec)
	})

	simulated := risk.SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
	if simulated.GreaterThanOrEqual(e.policy.ActionThreshold()) {
		return OutcomeSafe, nil
	}

	if e.state.InCooldown(rec.Address, e.opts.Cooldown, now) {
		return OutcomeCoolingDown, nil
	}

	return e.confirmAndTrigger(ctx, rec, simulated, now)
}

// confirmAndTrigger issues the authoritative health-factor query. The local
// estimate runs on last-synced figures while on-chain prices move
// continuously, so this second round trip is never skipped: only the
// protocol's own number may authorize a dispatch.
func (e *Engine) confirmAndTrigger(ctx context.Context, rec watchlist.Account, simulated decimal.Decimal, now time.Time) (Outcome, error) {
	confirmed, err := e.reader.AccountData(ctx, rec.Address)
	if err != nil {
		return OutcomeSkipped, err
	}

	if confirmed.HealthFactor.GreaterThanOrEqual(e.policy.LiquidationBoundary()) {
		e.logger.Info().
			Str("account", rec.Address).
			Str("simulated", simulated.StringFixed(4)).
			Str("health_factor", confirmed.HealthFactor.StringFixed(4)).
			Msg("estimate contradicted, cleared")
		e.alert(ctx, rec, simulated, alerting.Event{
			Kind:          alerting.EventCleared,
			Account:       rec.Address,
			SimulatedRisk: simulated,
			HealthFactor:  confirmed.HealthFactor,
			At:            now,
		})
		return OutcomeCleared, nil
	}

	// Pessimistic lock: the suppression entry lands before the action is
	// submitted so the next scan of this account cannot race a
	// slow-confirming dispatch.
	e.state.SetCooldown(rec.Address, now)
	e.persist(ctx, func(ctx context.Context, repo storage.Repository) error {
		return repo.UpsertCooldown(ctx, rec.Address, now)
	})

	tx, err := e.dispatch.Dispatch(ctx, rec.Address)
	if err != nil {
		// Rejected before submission, likely beaten by a competing
		// actor. The cooldown stays: re-firing at a position that was
		// just resolved only burns gas.
		e.logger.Warn().Err(err).Str("account", rec.Address).Msg("dispatch rejected")
		e.audit(ctx, storage.DispatchRecord{
			Account:       rec.Address,
			SimulatedRisk: simulated,
			HealthFactor:  confirmed.HealthFactor,
			Status:        storage.DispatchRejected,
		}, nil)
		return OutcomeDispatched, nil
	}

	e.dispatched.Add(1)
	record := storage.DispatchRecord{
		Account:       rec.Address,
		TxHash:        tx.Hash().Hex(),
		SimulatedRisk: simulated,
		HealthFactor:  confirmed.HealthFactor,
		Status:        storage.DispatchSubmitted,
	}
	e.audit(ctx, record, func(stored storage.DispatchRecord) {
		e.awaitOutcome(ctx, stored, tx)
	})

	// Dispatches are already deduplicated by the cooldown ledger, so the
	// notification goes out unconditionally.
	rec.LastAlertedRisk = simulated
	e.state.Upsert(rec)
	e.notify(ctx, alerting.Event{
		Kind:          alerting.EventDispatch,
		Account:       rec.Address,
		SimulatedRisk: simulated,
		HealthFactor:  confirmed.HealthFactor,
		TxHash:        tx.Hash().Hex(),
		At:            now,
	})
	return OutcomeDispatched, nil
}

// awaitOutcome watches the receipt in the background. The result feeds the
// audit log and a notification only; it never reopens the cooldown.
func (e *Engine) awaitOutcome(ctx context.Context, record storage.DispatchRecord, tx *types.Transaction) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
	go func() {
		defer cancel()

		ok, err := e.dispatch.Await(waitCtx, tx)
		status := storage.DispatchConfirmed
		message := "liquidation confirmed on-chain"
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str("tx", record.TxHash).Msg("dispatch outcome unknown")
			return
		case !ok:
			status = storage.DispatchReverted
			message = "liquidation reverted on-chain"
		}

		e.persist(waitCtx, func(ctx context.Context, repo storage.Repository) error {
			return repo.UpdateDispatchStatus(ctx, record.ID, status)
		})
		e.notify(waitCtx, alerting.Event{
			Kind:    alerting.EventDispatchOutcome,
			Account: record.Account,
			TxHash:  record.TxHash,
			Message: message,
			At:      time.Now().UTC(),
		})
	}()
}

// alert pushes a notification unless the same rounded risk level was already
// the basis of the previous alert for this account.
func (e *Engine) alert(ctx context.Context, rec watchlist.Account, simulated decimal.Decimal, event alerting.Event) {
	if !risk.AlertWorthy(simulated, rec.LastAlertedRisk) {
		return
	}

	rec.LastAlertedRisk = simulated
	e.state.Upsert(rec)
	e.persist(ctx, func(ctx context.Context, repo storage.Repository) error {
		return repo.UpsertAccount(ctx, rec)
	})
	e.notify(ctx, event)
}

func (e *Engine) notify(ctx context.Context, event alerting.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("notification failed")
	}
}

// audit writes a dispatch record best-effort; onStored runs only when the
// row landed, so background status updates have a real ID to target.
func (e *Engine) audit(ctx context.Context, record storage.DispatchRecord, onStored func(storage.DispatchRecord)) {
	if e.repo == nil {
		if onStored != nil {
			onStored(record)
		}
		return
	}

	stored, err := e.repo.InsertDispatch(ctx, record)
	if err != nil {
		e.markDegraded(ctx, err)
		stored = record
	}
	if onStored != nil {
		onStored(stored)
	}
}

// persist applies a repository write best-effort. The engine degrades to
// in-memory operation while the store is unreachable; state becomes durable
// again once it recovers.
func (e *Engine) persist(ctx context.Context, write func(context.Context, storage.Repository) error) {
	if e.repo == nil {
		return
	}
	if err := write(ctx, e.repo); err != nil {
		e.markDegraded(ctx, err)
		return
	}
	if e.repoDegraded.CompareAndSwap(true, false) {
		e.logger.Info().Msg("persistence recovered")
	}
}

func (e *Engine) markDegraded(ctx context.Context, err error) {
	if e.repoDegraded.CompareAndSwap(false, true) {
		e.logger.Error().Err(err).Msg("persistence unavailable, degrading to in-memory operation")
		e.notify(ctx, alerting.Event{
			Kind:    alerting.EventDegraded,
			Message: "persistence unavailable, running in-memory",
			At:      time.Now().UTC(),
		})
	} else {
		e.logger.Debug().Err(err).Msg("persistence write failed")
	}
}

// Status answers the inbound /status command.
func (e *Engine) Status(ctx context.Context) alerting.StatusReport {
	return alerting.StatusReport{
		Watchlist:  e.state.Count(),
		Cooldowns:  e.state.CooldownCount(),
		LastBlock:  e.state.LastBlock(),
		Price:      e.state.Price(),
		Paused:     e.state.Paused(),
		Dispatched: e.dispatched.Load(),
	}
}

// Pause gates the tick handler.
func (e *Engine) Pause() {
	e.state.Pause()
	e.logger.Info().Msg("engine paused")
}

// Resume re-enables the tick handler.
func (e *Engine) Resume() {
	e.state.Resume()
	e.logger.Info().Msg("engine resumed")
}

var _ alerting.CommandHandler = (*Engine)(nil)
