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

const (
	// Base-currency amounts from the pool carry 8 decimals, the health
	// factor 18; thresholds arrive in basis points.
	baseDecimals = 8
	hfDecimals   = 18
	bpsDivisor   = 10_000
)

// ReaderOptions parameterise the pool reader.
type ReaderOptions struct {
	PoolAddress string
	Timeout     time.Duration
}

// Reader answers authoritative account queries through the failover pool.
type Reader struct {
	opts   ReaderOptions
	pool   *rpc.Pool
	logger zerolog.Logger
	addr   common.Address
}

// NewReader builds an account reader over the endpoint pool.
func NewReader(opts ReaderOptions, pool *rpc.Pool, logger zerolog.Logger) (*Reader, error) {
	if opts.PoolAddress == "" {
		return nil, errors.New("lending pool address not configured")
	}
	return &Reader{
		opts:   opts,
		pool:   pool,
		logger: logger.With().Str("component", "chain_reader").Logger(),
		addr:   common.HexToAddress(opts.PoolAddress),
	}, nil
}

// AccountData calls getUserAccountData for one borrower.
func (r *Reader) AccountData(ctx context.Context, account string) (AccountData, error) {
	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := poolABI.Pack("getUserAccountData", common.HexToAddress(account))
	if err != nil {
		return AccountData{}, fmt.Errorf("pack getUserAccountData: %w", err)
	}

	var raw []byte
	err = r.pool.Execute(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
		client, dialErr := ep.Client(ctx)
		if dialErr != nil {
			return dialErr
		}
		res, callErr := client.CallContract(ctx, ethereum.CallMsg{To: &r.addr, Data: payload}, nil)
		if callErr != nil {
			return callErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return AccountData{}, err
	}

	outputs, err := poolABI.Unpack("getUserAccountData", raw)
	if err != nil {
		return AccountData{}, fmt.Errorf("unpack getUserAccountData: %w", err)
	}
	if len(outputs) != 6 {
		return AccountData{}, fmt.Errorf("unexpected getUserAccountData arity: %d", len(outputs))
	}

	values := make([]*big.Int, 0, 6)
	for _, out := range outputs {
		v, ok := out.(*big.Int)
		if !ok {
			return AccountData{}, errors.New("failed to decode getUserAccountData output")
		}
		values = append(values, v)
	}

	return AccountData{
		Collateral:           decimal.NewFromBigInt(values[0], -baseDecimals),
		Debt:                 decimal.NewFromBigInt(values[1], -baseDecimals),
		AvailableBorrows:     decimal.NewFromBigInt(values[2], -baseDecimals),
		LiquidationThreshold: decimal.NewFromBigInt(values[3], 0).Div(decimal.NewFromInt(bpsDivisor)),
		LTV:                  decimal.NewFromBigInt(values[4], 0).Div(decimal.NewFromInt(bpsDivisor)),
		HealthFactor:         decimal.NewFromBigInt(values[5], -hfDecimals),
	}, nil
}

var _ AccountReader = (*Reader)(nil)
