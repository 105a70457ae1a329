package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/elchief84/defi-liquidation-keeper/internal/config"
	"github.com/elchief84/defi-liquidation-keeper/internal/watchlist"
)

// Tier buckets an account by how close its simulated risk is to liquidation.
type Tier int

const (
	TierCritical Tier = iota
	TierHigh
	TierMedium
	TierLow
)

// String implements fmt.Stringer for logging.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// maxSimulated stands in for "infinitely safe" when debt is zero; zero-debt
// records are removed by the engine anyway.
var maxSimulated = decimal.NewFromInt(1_000_000)

// SimulatedRisk approximates the protocol health factor from cached fields:
// (collateral * liquidationThreshold) / debt. It is a scheduling signal only;
// dispatch is gated exclusively by the authoritative on-chain health factor.
func SimulatedRisk(collateral, debt, threshold decimal.Decimal) decimal.Decimal {
	if debt.IsZero() || debt.IsNegative() {
		return maxSimulated
	}
	return collateral.Mul(threshold).Div(debt)
}

// Policy decides how urgently a cached record needs re-verification. Refresh
// frequency scales inversely with distance-to-danger so the shared query
// budget concentrates on accounts that can actually flip.
type Policy struct {
	criticalBelow decimal.Decimal
	highBelow     decimal.Decimal
	mediumBelow   decimal.Decimal

	highMaxAge   time.Duration
	mediumMaxAge time.Duration
	lowMaxAge    time.Duration

	actionThreshold decimal.Decimal
	liquidationHF   decimal.Decimal
}

// NewPolicy builds the refresh policy from config.
func NewPolicy(cfg config.RiskConfig) Policy {
	return Policy{
		criticalBelow:   decimal.NewFromFloat(cfg.CriticalBelow),
		highBelow:       decimal.NewFromFloat(cfg.HighBelow),
		mediumBelow:     decimal.NewFromFloat(cfg.MediumBelow),
		highMaxAge:      cfg.HighMaxAge,
		mediumMaxAge:    cfg.MediumMaxAge,
		lowMaxAge:       cfg.LowMaxAge,
		actionThreshold: decimal.NewFromFloat(cfg.ActionThreshold),
		liquidationHF:   decimal.NewFromFloat(cfg.LiquidationHF),
	}
}

// DefaultPolicy returns the reference policy: 1.02 / 1.10 / 1.50 tier bounds,
// 12s / 5m / 45m max ages, action threshold 1.02, liquidation boundary 1.0.
func DefaultPolicy() Policy {
	return NewPolicy(config.RiskConfig{
		CriticalBelow:   1.02,
		HighBelow:       1.10,
		MediumBelow:     1.50,
		HighMaxAge:      12 * time.Second,
		MediumMaxAge:    5 * time.Minute,
		LowMaxAge:       45 * time.Minute,
		ActionThreshold: 1.02,
		LiquidationHF:   1.0,
	})
}

// Tier classifies a simulated risk value.
func (p Policy) Tier(simulated decimal.Decimal) Tier {
	switch {
	case simulated.LessThan(p.criticalBelow):
		return TierCritical
	case simulated.LessThan(p.highBelow):
		return TierHigh
	case simulated.LessThan(p.mediumBelow):
		return TierMedium
	default:
		return TierLow
	}
}

// MaxAge returns how stale a record in the given tier may become before a
// forced refresh. Critical accounts refresh on every opportunity.
func (p Policy) MaxAge(tier Tier) time.Duration {
	switch tier {
	case TierCritical:
		return 0
	case TierHigh:
		return p.highMaxAge
	case TierMedium:
		return p.mediumMaxAge
	default:
		return p.lowMaxAge
	}
}

// ShouldRefresh reports whether a cached record is due for re-verification at
// the given wall-clock instant. Never-synced records are always due.
func (p Policy) ShouldRefresh(rec watchlist.Account, now time.Time) bool {
	if rec.LastSyncedAt.IsZero() {
		return true
	}

	simulated := SimulatedRisk(rec.Collateral, rec.Debt, rec.LiquidationThreshold)
	maxAge := p.MaxAge(p.Tier(simulated))
	if maxAge == 0 {
		return true
	}
	return now.Sub(rec.LastSyncedAt) >= maxAge
}

// ActionThreshold is the simulated-risk bound below which the engine runs the
// authoritative confirmation query.
func (p Policy) ActionThreshold() decimal.Decimal { return p.actionThreshold }

// LiquidationBoundary is the authoritative health factor below which an
// account is eligible for dispatch.
func (p Policy) LiquidationBoundary() decimal.Decimal { return p.liquidationHF }

// AlertWorthy reports whether a newly observed risk level should produce a
// notification, suppressing repeats of the same rounded value.
func AlertWorthy(simulated, lastAlerted decimal.Decimal) bool {
	return !simulated.Round(2).Equal(lastAlerted.Round(2))
}
