package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Options parameterise the discovery feed.
type Options struct {
	SubgraphURL   string
	DebtSymbol    string
	LowWatermark  int
	HighWatermark int
	Timeout       time.Duration
	UserAgent     string
}

// Feed keeps the watch-list populated from the protocol subgraph. New
// addresses enter unsynced (zeroed metrics); the trigger engine pays the query
// cost on its normal cadence instead of discovery doing one RPC per address.
type Feed struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewFeed constructs a discovery feed.
func NewFeed(opts Options, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Feed{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// Refill tops the watch-list up to the high watermark when it has drained
// below the low watermark. A healthy list is a no-op with zero indexer
// traffic. Errors are the caller's to log and retry next cycle; they must
// never block the trigger engine.
func (f *Feed) Refill(ctx context.Context, state *watchlist.State) (int, error) {
	count := state.Count()
	if count >= f.opts.LowWatermark {
		return 0, nil
	}
	if f.opts.SubgraphURL == "" {
		return 0, errors.New("subgraph url not configured")
	}

	needed := f.opts.HighWatermark - count
	f.logger.Info().Int("current", count).Int("needed", needed).Msg("refilling watch-list")

	addresses, err := f.queryBorrowers(ctx, needed)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, addr := range addresses {
		if addr == "" || state.Contains(addr) {
			continue
		}
		state.Upsert(watchlist.Account{Address: addr})
		added++
	}

	f.logger.Info().Int("fetched", len(addresses)).Int("added", added).Int("watchlist", state.Count()).Msg("discovery complete")
	return added, nil
}

// queryBorrowers asks the indexer for borrower positions of the tracked debt
// asset, largest debt first so the economically worthwhile targets arrive
// before the dust.
func (f *Feed) queryBorrowers(ctx context.Context, limit int) ([]string, error) {
	query := fmt.Sprintf(
		`{ userReserves(first: %d, orderBy: currentTotalDebt, orderDirection: desc, where: {currentTotalDebt_gt: "0", reserve_: {symbol: %q}}) { user { id } } }`,
		limit, f.opts.DebtSymbol,
	)

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.opts.SubgraphURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded usersResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("subgraph error: %s", decoded.Errors[0].Message)
	}

	addresses := make([]string, 0, len(decoded.Data.UserReserves))
	for _, r := range decoded.Data.UserReserves {
		addresses = append(addresses, watchlist.NormalizeAddress(r.User.ID))
	}
	return addresses, nil
}

type usersResponse struct {
	Data struct {
		UserReserves []struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"userReserves"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
