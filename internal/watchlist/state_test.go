package watchlist

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestUpsertNormalizesAddress(t *testing.T) {
	state := NewState()
	state.Upsert(Account{Address: "0xABCDEF0123"})

	if !state.Contains("0xabcdef0123") {
		t.Fatal("lookup by lower-case address failed")
	}
	rec, ok := state.Get("0xAbCdEf0123")
	if !ok {
		t.Fatal("mixed-case lookup failed")
	}
	if rec.Address != "0xabcdef0123" {
		t.Fatalf("stored address = %q, want normalized", rec.Address)
	}
}

func TestSnapshotSorted(t *testing.T) {
	state := NewState()
	state.Upsert(Account{Address: "0xcc"})
	state.Upsert(Account{Address: "0xaa"})
	state.Upsert(Account{Address: "0xbb"})

	snap := state.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Address >= snap[i].Address {
			t.Fatalf("snapshot not sorted at %d: %s >= %s", i, snap[i-1].Address, snap[i].Address)
		}
	}
}

func TestCooldownWindow(t *testing.T) {
	state := NewState()
	now := time.Now().UTC()
	state.SetCooldown("0xAA", now.Add(-30*time.Minute))

	if !state.InCooldown("0xaa", time.Hour, now) {
		t.Error("entry inside the window should suppress")
	}
	if state.InCooldown("0xaa", 20*time.Minute, now) {
		t.Error("entry outside the window should not suppress")
	}
	if state.InCooldown("0xbb", time.Hour, now) {
		t.Error("unknown address should not suppress")
	}
}

func TestPruneCooldowns(t *testing.T) {
	state := NewState()
	now := time.Now().UTC()
	state.SetCooldown("0xaa", now.Add(-2*time.Hour))
	state.SetCooldown("0xbb", now.Add(-10*time.Minute))

	removed := state.PruneCooldowns(time.Hour, now)
	if removed != 1 {
		t.Fatalf("pruned = %d, want 1", removed)
	}
	if state.CooldownCount() != 1 {
		t.Fatalf("remaining = %d, want 1", state.CooldownCount())
	}
	if !state.InCooldown("0xbb", time.Hour, now) {
		t.Error("live entry must survive pruning")
	}
}

func TestLastBlockMonotonic(t *testing.T) {
	state := NewState()
	state.SetLastBlock(100)
	state.SetLastBlock(90)
	if got := state.LastBlock(); got != 100 {
		t.Fatalf("LastBlock = %d, want 100", got)
	}
	state.SetLastBlock(110)
	if got := state.LastBlock(); got != 110 {
		t.Fatalf("LastBlock = %d, want 110", got)
	}
}

func TestPauseResume(t *testing.T) {
	state := NewState()
	if state.Paused() {
		t.Fatal("fresh state should not be paused")
	}
	state.Pause()
	if !state.Paused() {
		t.Fatal("Pause did not take")
	}
	state.Resume()
	if state.Paused() {
		t.Fatal("Resume did not take")
	}
}

func TestSyncedFlag(t *testing.T) {
	rec := Account{Address: "0xaa", Debt: decimal.NewFromInt(1)}
	if rec.Synced() {
		t.Fatal("zero LastSyncedAt must read as never synced")
	}
	rec.LastSyncedAt = time.Now()
	if !rec.Synced() {
		t.Fatal("non-zero LastSyncedAt must read as synced")
	}
}
