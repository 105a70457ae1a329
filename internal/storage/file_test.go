package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

func newTempFile(t *testing.T) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keeper.json")
	f, err := NewFile(path)
	require.NoError(t, err)
	return f, path
}

func TestFileAccountsRoundTrip(t *testing.T) {
	f, path := newTempFile(t)
	ctx := context.Background()

	synced := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.UpsertAccount(ctx, watchlist.Account{
		Address:              "0xAA",
		Collateral:           decimal.NewFromInt(1000),
		Debt:                 decimal.NewFromInt(900),
		LiquidationThreshold: decimal.NewFromFloat(0.8),
		LastSyncedAt:         synced,
	}))
	require.NoError(t, f.UpsertAccount(ctx, watchlist.Account{Address: "0xbb"}))
	require.NoError(t, f.Flush())

	reopened, err := NewFile(path)
	require.NoError(t, err)

	accounts, err := reopened.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	// Address-normalized and sorted on write.
	require.Equal(t, "0xaa", accounts[0].Address)
	require.True(t, accounts[0].Debt.Equal(decimal.NewFromInt(900)))
	require.Equal(t, synced, accounts[0].LastSyncedAt)

	// The discovered-but-never-synced record keeps its zero timestamp.
	require.False(t, accounts[1].Synced())
}

func TestFileDeleteAccount(t *testing.T) {
	f, _ := newTempFile(t)
	ctx := context.Background()

	require.NoError(t, f.UpsertAccount(ctx, watchlist.Account{Address: "0xaa"}))
	require.NoError(t, f.DeleteAccount(ctx, "0xAA"))

	accounts, err := f.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, accounts)

	// Deleting a missing record is not an error.
	require.NoError(t, f.DeleteAccount(ctx, "0xcc"))
}

func TestFileCooldownFlushesImmediately(t *testing.T) {
	f, path := newTempFile(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.UpsertCooldown(ctx, "0xAA", at))

	// No explicit Flush: the entry must already be on disk.
	reopened, err := NewFile(path)
	require.NoError(t, err)
	cooldowns, err := reopened.LoadCooldowns(ctx)
	require.NoError(t, err)
	require.Equal(t, at, cooldowns["0xaa"])
}

func TestFilePruneCooldowns(t *testing.T) {
	f, _ := newTempFile(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, f.UpsertCooldown(ctx, "0xaa", now.Add(-2*time.Hour)))
	require.NoError(t, f.UpsertCooldown(ctx, "0xbb", now))
	require.NoError(t, f.PruneCooldowns(ctx, now.Add(-time.Hour)))

	cooldowns, err := f.LoadCooldowns(ctx)
	require.NoError(t, err)
	require.Len(t, cooldowns, 1)
	require.Contains(t, cooldowns, "0xbb")
}

func TestFileDispatchAuditLog(t *testing.T) {
	f, path := newTempFile(t)
	ctx := context.Background()

	first, err := f.InsertDispatch(ctx, DispatchRecord{
		Account:       "0xAA",
		TxHash:        "0xdead",
		SimulatedRisk: decimal.NewFromFloat(0.95),
		HealthFactor:  decimal.NewFromFloat(0.98),
		Status:        DispatchSubmitted,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)
	require.False(t, first.CreatedAt.IsZero())

	second, err := f.InsertDispatch(ctx, DispatchRecord{Account: "0xbb", Status: DispatchRejected})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.ID)

	require.NoError(t, f.UpdateDispatchStatus(ctx, first.ID, DispatchConfirmed))

	recent, err := f.ListRecentDispatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "0xbb", recent[0].Account)
	require.Equal(t, DispatchConfirmed, recent[1].Status)

	// ID assignment survives a reload.
	require.NoError(t, f.Flush())
	reopened, err := NewFile(path)
	require.NoError(t, err)
	third, err := reopened.InsertDispatch(ctx, DispatchRecord{Account: "0xcc", Status: DispatchSubmitted})
	require.NoError(t, err)
	require.Equal(t, int64(3), third.ID)
}

func TestFileNotConfigured(t *testing.T) {
	_, err := NewFile("")
	require.ErrorIs(t, err, ErrNotConfigured)
}
