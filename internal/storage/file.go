package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// fileDoc is the on-disk layout of the snapshot file.
type fileDoc struct {
	Accounts   []fileAccount        `json:"accounts"`
	Cooldowns  map[string]time.Time `json:"cooldowns"`
	Dispatches []fileDispatch       `json:"dispatches"`
}

type fileAccount struct {
	Address         string          `json:"address"`
	Collateral      decimal.Decimal `json:"collateral"`
	Debt            decimal.Decimal `json:"debt"`
	LiqThreshold    decimal.Decimal `json:"liq_threshold"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	LastAlertedRisk decimal.Decimal `json:"last_alerted_risk"`
}

type fileDispatch struct {
	ID            int64           `json:"id"`
	Account       string          `json:"account"`
	TxHash        string          `json:"tx_hash"`
	SimulatedRisk decimal.Decimal `json:"simulated_risk"`
	HealthFactor  decimal.Decimal `json:"health_factor"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// maxFileDispatches bounds the audit log kept in the snapshot file.
const maxFileDispatches = 500

// File is a JSON snapshot repository for deployments without a database.
// Mutations update an in-memory document; cooldown writes and dispatch inserts
// flush immediately (they guard correctness across restarts), account updates
// are flushed by the periodic Flush call.
type File struct {
	mu     sync.Mutex
	path   string
	doc    fileDoc
	nextID int64
	loaded bool
	dirty  bool
}

// NewFile builds a file-backed repository at path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	f := &File{path: path, doc: fileDoc{Cooldowns: make(map[string]time.Time)}, nextID: 1}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Cooldowns == nil {
		doc.Cooldowns = make(map[string]time.Time)
	}
	for _, d := range doc.Dispatches {
		if d.ID >= f.nextID {
			f.nextID = d.ID + 1
		}
	}
	f.doc = doc
	f.loaded = true
	return nil
}

// Flush writes the snapshot to disk if anything changed since the last write.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	return f.writeLocked()
}

func (f *File) writeLocked() error {
	raw, err := json.MarshalIndent(&f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	f.dirty = false
	return nil
}

// LoadAccounts returns the persisted watch-list.
func (f *File) LoadAccounts(ctx context.Context) ([]watchlist.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]watchlist.Account, 0, len(f.doc.Accounts))
	for _, a := range f.doc.Accounts {
		rec := watchlist.Account{
			Address:              a.Address,
			Collateral:           a.Collateral,
			Debt:                 a.Debt,
			LiquidationThreshold: a.LiqThreshold,
			LastAlertedRisk:      a.LastAlertedRisk,
		}
		if a.LastSyncedAt != nil {
			rec.LastSyncedAt = *a.LastSyncedAt
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpsertAccount stores one record in the in-memory document.
func (f *File) UpsertAccount(ctx context.Context, rec watchlist.Account) error {
	addr := watchlist.NormalizeAddress(rec.Address)

	entry := fileAccount{
		Address:         addr,
		Collateral:      rec.Collateral,
		Debt:            rec.Debt,
		LiqThreshold:    rec.LiquidationThreshold,
		LastAlertedRisk: rec.LastAlertedRisk,
	}
	if !rec.LastSyncedAt.IsZero() {
		at := rec.LastSyncedAt
		entry.LastSyncedAt = &at
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Accounts {
		if f.doc.Accounts[i].Address == addr {
			f.doc.Accounts[i] = entry
			f.dirty = true
			return nil
		}
	}
	f.doc.Accounts = append(f.doc.Accounts, entry)
	sort.Slice(f.doc.Accounts, func(i, j int) bool { return f.doc.Accounts[i].Address < f.doc.Accounts[j].Address })
	f.dirty = true
	return nil
}

// DeleteAccount drops one record from the document.
func (f *File) DeleteAccount(ctx context.Context, address string) error {
	addr := watchlist.NormalizeAddress(address)

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Accounts {
		if f.doc.Accounts[i].Address == addr {
			f.doc.Accounts = append(f.doc.Accounts[:i], f.doc.Accounts[i+1:]...)
			f.dirty = true
			return nil
		}
	}
	return nil
}

// LoadCooldowns returns the persisted suppression ledger.
func (f *File) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]time.Time, len(f.doc.Cooldowns))
	for addr, at := range f.doc.Cooldowns {
		out[addr] = at
	}
	return out, nil
}

// UpsertCooldown records a suppression entry and flushes immediately: losing
// it across a restart could double-fire a slow-confirming dispatch.
func (f *File) UpsertCooldown(ctx context.Context, address string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.doc.Cooldowns[watchlist.NormalizeAddress(address)] = at
	f.dirty = true
	return f.writeLocked()
}

// PruneCooldowns drops expired entries.
func (f *File) PruneCooldowns(ctx context.Context, before time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for addr, at := range f.doc.Cooldowns {
		if at.Before(before) {
			delete(f.doc.Cooldowns, addr)
			f.dirty = true
		}
	}
	return nil
}

// InsertDispatch appends to the audit log and flushes immediately.
func (f *File) InsertDispatch(ctx context.Context, rec DispatchRecord) (DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec.ID = f.nextID
	f.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Account = watchlist.NormalizeAddress(rec.Account)

	f.doc.Dispatches = append(f.doc.Dispatches, fileDispatch{
		ID:            rec.ID,
		Account:       rec.Account,
		TxHash:        rec.TxHash,
		SimulatedRisk: rec.SimulatedRisk,
		HealthFactor:  rec.HealthFactor,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt,
	})
	if len(f.doc.Dispatches) > maxFileDispatches {
		f.doc.Dispatches = f.doc.Dispatches[len(f.doc.Dispatches)-maxFileDispatches:]
	}
	f.dirty = true
	if err := f.writeLocked(); err != nil {
		return DispatchRecord{}, err
	}
	return rec, nil
}

// UpdateDispatchStatus records the asynchronous dispatch outcome.
func (f *File) UpdateDispatchStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.doc.Dispatches {
		if f.doc.Dispatches[i].ID == id {
			f.doc.Dispatches[i].Status = status
			f.dirty = true
			return nil
		}
	}
	return nil
}

// ListRecentDispatches returns the newest audit rows first.
func (f *File) ListRecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]DispatchRecord, 0, limit)
	for i := len(f.doc.Dispatches) - 1; i >= 0 && len(out) < limit; i-- {
		d := f.doc.Dispatches[i]
		out = append(out, DispatchRecord{
			ID:            d.ID,
			Account:       d.Account,
			TxHash:        d.TxHash,
			SimulatedRisk: d.SimulatedRisk,
			HealthFactor:  d.HealthFactor,
			Status:        d.Status,
			CreatedAt:     d.CreatedAt,
		})
	}
	return out, nil
}

var _ Repository = (*File)(nil)
