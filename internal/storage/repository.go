package storage

import (
	"context"
	"errors"
	"time"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// ErrNotConfigured indicates the backing store was not initialised.
var ErrNotConfigured = errors.New("storage: not configured")

// Repository persists the watch-list, the cooldown ledger, and the dispatch
// audit log. All writes are last-writer-wins per address; every failure is
// tolerated by the engine, which degrades to memory-only operation.
type Repository interface {
	LoadAccounts(ctx context.Context) ([]watchlist.Account, error)
	UpsertAccount(ctx context.Context, rec watchlist.Account) error
	DeleteAccount(ctx context.Context, address string) error

	LoadCooldowns(ctx context.Context) (map[string]time.Time, error)
	UpsertCooldown(ctx context.Context, address string, at time.Time) error
	PruneCooldowns(ctx context.Context, before time.Time) error

	InsertDispatch(ctx context.Context, rec DispatchRecord) (DispatchRecord, error)
	UpdateDispatchStatus(ctx context.Context, id int64, status string) error
	ListRecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error)
}
