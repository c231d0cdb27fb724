// model/ledger.go
package model

import "time"

type Reason string

const (
	ReasonOrderPoints        Reason = "order-points"
	ReasonRedemptionDebit    Reason = "redemption-debit"
	ReasonRedemptionReversal Reason = "redemption-reversal"
	ReasonExpiry             Reason = "expiry"
	ReasonManualAdjustment   Reason = "manual-adjustment"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonOrderPoints, ReasonRedemptionDebit, ReasonRedemptionReversal, ReasonExpiry, ReasonManualAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable signed point movement.
type LedgerEntry struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Amount         int64      `json:"amount"`
	Reason         Reason     `json:"reason"`
	OrderRef       *string    `json:"order_ref,omitempty"`
	RedemptionID   *string    `json:"redemption_id,omitempty"`
	SourceEntryID  *int64     `json:"source_entry_id,omitempty"`
	IdempotencyKey *string    `json:"-"`
	PolicyVersion  int        `json:"policy_version"`
	BalanceAfter   int64      `json:"balance_after"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsEarn reports whether the entry grants points that can later expire.
func (e LedgerEntry) IsEarn() bool {
	if e.Amount <= 0 {
		return false
	}
	return e.Reason == ReasonOrderPoints || e.Reason == ReasonManualAdjustment
}

// IsConsumption reports whether the entry draws on (or gives back to) earned points.
func (e LedgerEntry) IsConsumption() bool {
	switch e.Reason {
	case ReasonRedemptionDebit, ReasonRedemptionReversal:
		return true
	case ReasonManualAdjustment:
		return e.Amount < 0
	}
	return false
}

// Posting is a request to append one entry.
type Posting struct {
	UserID         int64
	Amount         int64
	Reason         Reason
	OrderRef       *string
	RedemptionID   *string
	SourceEntryID  *int64
	IdempotencyKey *string
	ExpiresAt      *time.Time
}
