package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/rpc"
)

// DispatcherOptions parameterise the on-chain action submitter.
type DispatcherOptions struct {
	ContractAddress string
	DebtAsset       string
	CollateralAsset string
	DebtDecimals    int
	// Notional is the flash-loan amount in whole debt-asset units.
	Notional   float64
	GasLimit   uint64
	ChainID    int64
	PrivateKey string
	Timeout    time.Duration
}

// FlashLoanDispatcher signs and submits requestFlashLoan against the primary
// endpoint. Writes never rotate: a transaction broadcast twice through
// different providers would double-spend the nonce.
type FlashLoanDispatcher struct {
	opts   DispatcherOptions
	pool   *rpc.Pool
	logger zerolog.Logger

	key    *ecdsa.PrivateKey
	from   common.Address
	target common.Address
	amount *big.Int
}

// NewFlashLoanDispatcher builds the dispatcher, validating key material up
// front so a bad key fails at startup rather than on the first trigger.
func NewFlashLoanDispatcher(opts DispatcherOptions, pool *rpc.Pool, logger zerolog.Logger) (*FlashLoanDispatcher, error) {
	if opts.ContractAddress == "" {
		return nil, errors.New("liquidator contract address not configured")
	}
	if opts.PrivateKey == "" {
		return nil, errors.New("dispatch private key not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	notional := decimal.NewFromFloat(opts.Notional)
	amount := notional.Shift(int32(opts.DebtDecimals)).Round(0).BigInt()
	if amount.Sign() <= 0 {
		return nil, errors.New("flash loan notional rounds to zero")
	}

	return &FlashLoanDispatcher{
		opts:   opts,
		pool:   pool,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		key:    key,
		from:   crypto.PubkeyToAddress(key.PublicKey),
		target: common.HexToAddress(opts.ContractAddress),
		amount: amount,
	}, nil
}

// From returns the signing address.
func (d *FlashLoanDispatcher) From() common.Address { return d.from }

// Dispatch submits requestFlashLoan for a target borrower and returns the
// pending transaction.
func (d *FlashLoanDispatcher) Dispatch(ctx context.Context, target string) (*types.Transaction, error) {
	timeout := d.opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := d.pool.Primary().Client(ctx)
	if err != nil {
		return nil, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(d.key, big.NewInt(d.opts.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = d.opts.GasLimit

	contract := bind.NewBoundContract(d.target, liquidatorABI, client, client, client)
	tx, err := contract.Transact(opts, "requestFlashLoan",
		common.HexToAddress(d.opts.DebtAsset),
		d.amount,
		common.HexToAddress(d.opts.CollateralAsset),
		common.HexToAddress(target),
	)
	if err != nil {
		return nil, fmt.Errorf("submit flash loan: %w", err)
	}

	d.logger.Info().
		Str("target", strings.ToLower(target)).
		Str("tx", tx.Hash().Hex()).
		Str("amount", d.amount.String()).
		Msg("liquidation dispatched")
	return tx, nil
}

// Await blocks until the transaction is mined and reports whether it
// succeeded. The outcome only feeds notifications, never scheduling state.
func (d *FlashLoanDispatcher) Await(ctx context.Context, tx *types.Transaction) (bool, error) {
	client, err := d.pool.Primary().Client(ctx)
	if err != nil {
		return false, err
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return false, fmt.Errorf("wait mined: %w", err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

var _ Dispatcher = (*FlashLoanDispatcher)(nil)
