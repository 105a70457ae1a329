package watchlist

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the cached view of one watched borrower. Values are decimal
// quantities already converted from the protocol's fixed-point integers.
type Account struct {
	// Address is lower-hex normalized and unique within the watch-list.
	Address              string
	Collateral           decimal.Decimal
	Debt                 decimal.Decimal
	LiquidationThreshold decimal.Decimal
	// LastSyncedAt is the zero time for records discovered but never synced.
	LastSyncedAt time.Time
	// LastAlertedRisk suppresses repeat alerts for the same risk level.
	LastAlertedRisk decimal.Decimal
}

// Synced reports whether the record has ever been refreshed from chain.
func (a Account) Synced() bool { return !a.LastSyncedAt.IsZero() }

// NormalizeAddress lower-cases a hex address so it can serve as a map key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// State is the single holder for all mutable monitoring state: the watch-list,
// the cooldown ledger, the oracle price gate, the last processed block, and
// the pause toggle. Every component receives it at construction instead of
// reaching for package globals. Single-writer discipline per field group: the
// trigger engine writes accounts and cooldowns, the head watcher writes the
// block number, the command channel flips the pause flag.
type State struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	cooldowns map[string]time.Time
	price     decimal.Decimal
	lastBlock uint64
	paused    bool
}

// NewState constructs an empty state holder.
func NewState() *State {
	return &State{
		accounts:  make(map[string]Account),
		cooldowns: make(map[string]time.Time),
	}
}

// Get returns the record for an address, if present.
func (s *State) Get(addr string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accounts[NormalizeAddress(addr)]
	return rec, ok
}

// Upsert writes a record, normalizing its address. Last writer wins.
func (s *State) Upsert(rec Account) {
	rec.Address = NormalizeAddress(rec.Address)
	s.mu.Lock()
	s.accounts[rec.Address] = rec
	s.mu.Unlock()
}

// Delete removes an address from the watch-list.
func (s *State) Delete(addr string) {
	s.mu.Lock()
	delete(s.accounts, NormalizeAddress(addr))
	s.mu.Unlock()
}

// Count reports the watch-list size.
func (s *State) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Contains reports whether an address is already watched.
func (s *State) Contains(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[NormalizeAddress(addr)]
	return ok
}

// Snapshot returns all records ordered by address for deterministic scans.
func (s *State) Snapshot() []Account {
	s.mu.RLock()
	out := make([]Account, 0, len(s.accounts))
	for _, rec := range s.accounts {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// SetCooldown records a dispatch suppression for an address at the given
// instant. Written the moment a dispatch is initiated, before its outcome is
// known, so a slow confirmation cannot be duplicated by the next scan.
func (s *State) SetCooldown(addr string, at time.Time) {
	s.mu.Lock()
	s.cooldowns[NormalizeAddress(addr)] = at
	s.mu.Unlock()
}

// InCooldown reports whether an address is still suppressed at now, given the
// configured window. Expired entries are left to PruneCooldowns.
func (s *State) InCooldown(addr string, window time.Duration, now time.Time) bool {
	s.mu.RLock()
	at, ok := s.cooldowns[NormalizeAddress(addr)]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return now.Sub(at) < window
}

// PruneCooldowns drops entries older than the window and returns how many
// were removed.
func (s *State) PruneCooldowns(window time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for addr, at := range s.cooldowns {
		if now.Sub(at) >= window {
			delete(s.cooldowns, addr)
			removed++
		}
	}
	return removed
}

// CooldownCount reports the number of live suppression entries.
func (s *State) CooldownCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cooldowns)
}

// Cooldowns returns a copy of the ledger for persistence.
func (s *State) Cooldowns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.cooldowns))
	for addr, at := range s.cooldowns {
		out[addr] = at
	}
	return out
}

// SetPrice stores the latest oracle price for the collateral asset.
func (s *State) SetPrice(p decimal.Decimal) {
	s.mu.Lock()
	s.price = p
	s.mu.Unlock()
}

// Price returns the last known oracle price; zero means unknown and gates the
// whole simulation pass off.
func (s *State) Price() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// SetLastBlock records the most recent block number seen.
func (s *State) SetLastBlock(n uint64) {
	s.mu.Lock()
	if n > s.lastBlock {
		s.lastBlock = n
	}
	s.mu.Unlock()
}

// LastBlock returns the most recent block number seen.
func (s *State) LastBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBlock
}

// Pause gates the trigger engine's tick handler without tearing anything down.
func (s *State) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables the tick handler.
func (s *State) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Paused reports the toggle.
func (s *State) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}
