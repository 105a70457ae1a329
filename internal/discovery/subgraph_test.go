package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

func borrowersHandler(t *testing.T, hits *atomic.Int64, ids ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Contains(t, payload.Query, "orderBy: currentTotalDebt")
		require.Contains(t, payload.Query, "orderDirection: desc")
		require.Contains(t, payload.Query, `currentTotalDebt_gt: "0"`)
		require.Contains(t, payload.Query, `symbol: "DAI"`)

		reserves := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			reserves = append(reserves, map[string]any{"user": map[string]string{"id": id}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"userReserves": reserves},
		}))
	}
}

func newTestFeed(url string, low, high int) *Feed {
	return NewFeed(Options{
		SubgraphURL:   url,
		DebtSymbol:    "DAI",
		LowWatermark:  low,
		HighWatermark: high,
	}, zerolog.Nop())
}

func TestRefillAddsUnknownBorrowers(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(borrowersHandler(t, &hits, "0xAAA1", "0xbbb2", "0xaaa1"))
	defer srv.Close()

	state := watchlist.NewState()
	state.Upsert(watchlist.Account{Address: "0xccc3"})

	added, err := newTestFeed(srv.URL, 5, 10).Refill(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Equal(t, 3, state.Count())

	// Discovered records enter unsynced.
	rec, ok := state.Get("0xaaa1")
	require.True(t, ok)
	require.False(t, rec.Synced())
}

func TestRefillNoopAboveLowWatermark(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(borrowersHandler(t, &hits, "0xaaa1"))
	defer srv.Close()

	state := watchlist.NewState()
	for i := 0; i < 5; i++ {
		state.Upsert(watchlist.Account{Address: fmt.Sprintf("0x%040d", i)})
	}

	added, err := newTestFeed(srv.URL, 5, 10).Refill(context.Background(), state)
	require.NoError(t, err)
	require.Zero(t, added)
	require.Zero(t, hits.Load(), "a healthy watch-list must produce zero indexer traffic")
}

func TestRefillRequestsOnlyTheShortfall(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotQuery = payload.Query
		_, _ = w.Write([]byte(`{"data":{"userReserves":[]}}`))
	}))
	defer srv.Close()

	state := watchlist.NewState()
	for i := 0; i < 3; i++ {
		state.Upsert(watchlist.Account{Address: fmt.Sprintf("0x%040d", i)})
	}

	_, err := newTestFeed(srv.URL, 5, 10).Refill(context.Background(), state)
	require.NoError(t, err)
	require.Contains(t, gotQuery, "userReserves(first: 7,")
}

func TestRefillSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexer overloaded"}]}`))
	}))
	defer srv.Close()

	state := watchlist.NewState()
	_, err := newTestFeed(srv.URL, 5, 10).Refill(context.Background(), state)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "indexer overloaded"))
	require.Zero(t, state.Count(), "a failed refill must not mutate the watch-list")
}

func TestRefillSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	state := watchlist.NewState()
	_, err := newTestFeed(srv.URL, 5, 10).Refill(context.Background(), state)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
