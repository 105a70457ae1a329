package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/chain"
	"github.com/elchief84/defi-liquidation-keeper/internal/engine"
	"github.com/elchief84/defi-liquidation-keeper/internal/risk"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Simulate feeds a synthetic account through the full trigger pipeline with
// static chain responses. Nothing is broadcast; the dispatcher fabricates a
// transaction and confirms it instantly.
func (a *App) Simulate(ctx context.Context, collateral, debt, threshold, healthFactor decimal.Decimal) error {
	notifier := a.newNotifier()

	reader := &staticAccountReader{
		data: chain.AccountData{
			Collateral:           collateral,
			Debt:                 debt,
			LiquidationThreshold: threshold,
			HealthFactor:         healthFactor,
		},
	}
	dispatcher := &recordingDispatcher{}

	state := watchlist.NewState()
	rec := watchlist.Account{Address: watchlist.NormalizeAddress("0x0000000000000000000000000000000000000001")}
	state.Upsert(rec)

	policy := risk.NewPolicy(a.Config.Risk)
	eng := engine.New(engine.Options{
		Cooldown:        a.Config.Engine.Cooldown,
		CollateralAsset: a.Config.Chain.CollateralAsset,
	}, state, policy, reader, &staticPriceSource{}, dispatcher, nil, notifier, a.Logger)

	simulated := risk.SimulatedRisk(collateral, debt, threshold)
	a.Logger.Info().
		Str("simulated_risk", simulated.StringFixed(4)).
		Str("tier", policy.Tier(simulated).String()).
		Str("health_factor", healthFactor.StringFixed(4)).
		Msg("simulating account")

	outcome, err := eng.ProcessAccount(ctx, rec, time.Now().UTC())
	if err != nil {
		return err
	}

	// Give the confirmation goroutine a moment to report before exit.
	time.Sleep(500 * time.Millisecond)

	fmt.Fprintf(os.Stdout, "outcome: %s\n", outcome)
	if dispatcher.dispatched {
		fmt.Fprintf(os.Stdout, "dispatch tx: %s (not broadcast)\n", dispatcher.tx.Hash().Hex())
	}
	return nil
}

type staticAccountReader struct {
	data chain.AccountData
}

func (r *staticAccountReader) AccountData(ctx context.Context, account string) (chain.AccountData, error) {
	return r.data, nil
}

type staticPriceSource struct{}

func (s *staticPriceSource) AssetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

type recordingDispatcher struct {
	dispatched bool
	tx         *types.Transaction
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, target string) (*types.Transaction, error) {
	to := common.HexToAddress(target)
	d.tx = types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      1_000_000,
		GasPrice: big.NewInt(0),
	})
	d.dispatched = true
	return d.tx, nil
}

func (d *recordingDispatcher) Await(ctx context.Context, tx *types.Transaction) (bool, error) {
	return true, nil
}

var _ chain.AccountReader = (*staticAccountReader)(nil)
var _ chain.PriceSource = (*staticPriceSource)(nil)
var _ chain.Dispatcher = (*recordingDispatcher)(nil)
