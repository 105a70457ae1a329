package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

func TestSimulatedRisk(t *testing.T) {
	got := SimulatedRisk(decimal.NewFromInt(1000), decimal.NewFromInt(900), decimal.NewFromFloat(0.8))
	want := decimal.NewFromInt(800).Div(decimal.NewFromInt(900))
	if !got.Equal(want) {
		t.Fatalf("SimulatedRisk = %s, want %s", got, want)
	}
}

func TestSimulatedRiskZeroDebt(t *testing.T) {
	got := SimulatedRisk(decimal.NewFromInt(1000), decimal.Zero, decimal.NewFromFloat(0.8))
	if !got.Equal(maxSimulated) {
		t.Fatalf("zero debt should map to the safe sentinel, got %s", got)
	}
}

func TestTierBoundaries(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		simulated float64
		want      Tier
	}{
		{0.99, TierCritical},
		{1.0199, TierCritical},
		{1.02, TierHigh},
		{1.05, TierHigh},
		{1.10, TierMedium},
		{1.30, TierMedium},
		{1.50, TierLow},
		{2.00, TierLow},
	}

	for _, tc := range cases {
		if got := policy.Tier(decimal.NewFromFloat(tc.simulated)); got != tc.want {
			t.Errorf("Tier(%v) = %s, want %s", tc.simulated, got, tc.want)
		}
	}
}

func TestShouldRefreshNeverSynced(t *testing.T) {
	policy := DefaultPolicy()
	rec := watchlist.Account{Address: "0xaa"}
	if !policy.ShouldRefresh(rec, time.Now()) {
		t.Fatal("never-synced record must always be due")
	}
}

func TestShouldRefreshByTierAge(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Now().UTC()

	// Critical accounts refresh on every opportunity.
	critical := watchlist.Account{
		Address:              "0xaa",
		Collateral:           decimal.NewFromInt(900),
		Debt:                 decimal.NewFromInt(900),
		LiquidationThreshold: decimal.NewFromFloat(0.8),
		LastSyncedAt:         now,
	}
	if !policy.ShouldRefresh(critical, now) {
		t.Error("critical record should refresh even when fresh")
	}

	// A low-tier account refreshes only after its max age.
	low := watchlist.Account{
		Address:              "0xbb",
		Collateral:           decimal.NewFromInt(5000),
		Debt:                 decimal.NewFromInt(1000),
		LiquidationThreshold: decimal.NewFromFloat(0.8),
		LastSyncedAt:         now.Add(-time.Minute),
	}
	if policy.ShouldRefresh(low, now) {
		t.Error("fresh low-tier record should not be due")
	}
	low.LastSyncedAt = now.Add(-46 * time.Minute)
	if !policy.ShouldRefresh(low, now) {
		t.Error("stale low-tier record should be due")
	}
}

func TestMaxAgeOrdering(t *testing.T) {
	policy := DefaultPolicy()
	if policy.MaxAge(TierCritical) != 0 {
		t.Errorf("critical max age = %v, want 0", policy.MaxAge(TierCritical))
	}
	if !(policy.MaxAge(TierHigh) < policy.MaxAge(TierMedium) && policy.MaxAge(TierMedium) < policy.MaxAge(TierLow)) {
		t.Error("max ages must grow with distance from danger")
	}
}

func TestAlertWorthy(t *testing.T) {
	if AlertWorthy(decimal.NewFromFloat(1.011), decimal.NewFromFloat(1.014)) {
		t.Error("same rounded level should not re-alert")
	}
	if !AlertWorthy(decimal.NewFromFloat(1.01), decimal.NewFromFloat(1.05)) {
		t.Error("changed level should alert")
	}
	if !AlertWorthy(decimal.NewFromFloat(1.01), decimal.Decimal{}) {
		t.Error("first observation should alert")
	}
}
