package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dispatch statuses recorded in the audit log.
const (
	DispatchSubmitted = "submitted"
	DispatchConfirmed = "confirmed"
	DispatchReverted  = "reverted"
	DispatchRejected  = "rejected"
)

// DispatchRecord captures one trigger attempt for auditing. The cooldown
// ledger, not this log, is what prevents duplicate fires.
type DispatchRecord struct {
	ID            int64
	Account       string
	TxHash        string
	SimulatedRisk decimal.Decimal
	HealthFactor  decimal.Decimal
	Status        string
	CreatedAt     time.Time
}
