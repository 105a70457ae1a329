package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// AccountData is the authoritative per-account view returned by the lending
// pool, converted from the protocol's fixed-point integers: collateral and
// debt are 8-decimal base-currency amounts, the liquidation threshold and LTV
// arrive in basis points, the health factor at 18 decimals.
type AccountData struct {
	Collateral           decimal.Decimal
	Debt                 decimal.Decimal
	AvailableBorrows     decimal.Decimal
	LiquidationThreshold decimal.Decimal
	LTV                  decimal.Decimal
	HealthFactor         decimal.Decimal
}

// AccountReader fetches the authoritative account view from the lending pool.
type AccountReader interface {
	AccountData(ctx context.Context, account string) (AccountData, error)
}

// PriceSource fetches the oracle price for an asset (8-decimal fixed point).
type PriceSource interface {
	AssetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Dispatcher submits the liquidation action for a target account and returns
// the pending transaction. The on-chain borrow/swap/repay sequence is owned by
// the external contract; the keeper treats it as opaque.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string) (*types.Transaction, error)
	Await(ctx context.Context, tx *types.Transaction) (bool, error)
}
