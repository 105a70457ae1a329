package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/rpc"
)

// OracleOptions parameterise the price oracle adapter.
type OracleOptions struct {
	OracleAddress string
	Timeout       time.Duration
}

// Oracle answers getAssetPrice queries through the failover pool.
type Oracle struct {
	opts   OracleOptions
	pool   *rpc.Pool
	logger zerolog.Logger
	addr   common.Address
}

// NewOracle builds the oracle adapter.
func NewOracle(opts OracleOptions, pool *rpc.Pool, logger zerolog.Logger) (*Oracle, error) {
	if opts.OracleAddress == "" {
		return nil, errors.New("oracle address not configured")
	}
	return &Oracle{
		opts:   opts,
		pool:   pool,
		logger: logger.With().Str("component", "chain_oracle").Logger(),
		addr:   common.HexToAddress(opts.OracleAddress),
	}, nil
}

// AssetPrice returns the 8-decimal oracle price for an asset.
func (o *Oracle) AssetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := oracleABI.Pack("getAssetPrice", common.HexToAddress(asset))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pack getAssetPrice: %w", err)
	}

	var raw []byte
	err = o.pool.Execute(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
		client, dialErr := ep.Client(ctx)
		if dialErr != nil {
			return dialErr
		}
		res, callErr := client.CallContract(ctx, ethereum.CallMsg{To: &o.addr, Data: payload}, nil)
		if callErr != nil {
			return callErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := oracleABI.Unpack("getAssetPrice", raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unpack getAssetPrice: %w", err)
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected getAssetPrice response")
	}
	price, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode getAssetPrice output")
	}

	return decimal.NewFromBigInt(price, -baseDecimals), nil
}

var _ PriceSource = (*Oracle)(nil)
