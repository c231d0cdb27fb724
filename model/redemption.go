// model/redemption.go
package model

import "time"

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionConfirmed RedemptionStatus = "confirmed"
	RedemptionUsed      RedemptionStatus = "used"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

type Redemption struct {
	ID              string           `json:"id"`
	UserID          int64            `json:"user_id"`
	Points          int64            `json:"points"`
	Status          RedemptionStatus `json:"status"`
	RewardCode      *string          `json:"reward_code,omitempty"`
	DebitEntryID    int64            `json:"debit_entry_id"`
	ReversalEntryID *int64           `json:"reversal_entry_id,omitempty"`
	PolicyVersion   int              `json:"policy_version"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
	ConfirmedAt     *time.Time       `json:"confirmed_at,omitempty"`
	UsedAt          *time.Time       `json:"used_at,omitempty"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason    *string          `json:"cancel_reason,omitempty"`
}
