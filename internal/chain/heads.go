package chain

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/elchief84/defi-liquidation-keeper/internal/rpc"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// HeadWatcher keeps the shared state's last-block counter current and emits a
// periodic heartbeat. Subscribes to new heads when the primary endpoint speaks
// websocket, polls the block number through the pool otherwise.
type HeadWatcher struct {
	pool           *rpc.Pool
	state          *watchlist.State
	logger         zerolog.Logger
	heartbeatEvery uint64
	pollInterval   time.Duration
}

// NewHeadWatcher builds the watcher. heartbeatEvery of zero disables the
// heartbeat log.
func NewHeadWatcher(pool *rpc.Pool, state *watchlist.State, heartbeatEvery uint64, logger zerolog.Logger) *HeadWatcher {
	return &HeadWatcher{
		pool:           pool,
		state:          state,
		logger:         logger.With().Str("component", "head_watcher").Logger(),
		heartbeatEvery: heartbeatEvery,
		pollInterval:   12 * time.Second,
	}
}

// Run blocks until ctx is cancelled. Subscription failures degrade to polling
// rather than surfacing; block tracking is informational only.
func (w *HeadWatcher) Run(ctx context.Context) {
	primary := w.pool.Primary()
	if isSubscribable(primary.URL()) {
		if err := w.subscribe(ctx, primary); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("head subscription failed, falling back to polling")
		}
	}
	w.poll(ctx)
}

func (w *HeadWatcher) subscribe(ctx context.Context, primary *rpc.Endpoint) error {
	client, err := primary.Client(ctx)
	if err != nil {
		return err
	}

	heads := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case head := <-heads:
			w.observe(head.Number.Uint64())
		}
	}
}

func (w *HeadWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var number uint64
			err := w.pool.Execute(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
				client, dialErr := ep.Client(ctx)
				if dialErr != nil {
					return dialErr
				}
				n, callErr := client.BlockNumber(ctx)
				if callErr != nil {
					return callErr
				}
				number = n
				return nil
			})
			if err != nil {
				w.logger.Debug().Err(err).Msg("block number poll failed")
				continue
			}
			w.observe(number)
		}
	}
}

func (w *HeadWatcher) observe(number uint64) {
	w.state.SetLastBlock(number)
	if w.heartbeatEvery > 0 && number%w.heartbeatEvery == 0 {
		w.logger.Info().
			Uint64("block", number).
			Str("price", w.state.Price().String()).
			Int("watchlist", w.state.Count()).
			Msg("heartbeat")
	}
}

func isSubscribable(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}
