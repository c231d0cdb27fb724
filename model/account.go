// model/account.go
package model

import "time"

type Account struct {
	UserID           int64      `json:"user_id"`
	Balance          int64      `json:"balance"`
	LifetimeEarned   int64      `json:"lifetime_earned"`
	LifetimeRedeemed int64      `json:"lifetime_redeemed"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	RetiredAt        *time.Time `json:"retired_at,omitempty"`
}

func (a Account) Retired() bool { return a.RetiredAt != nil }

// Status is the derived view of an account.
type Status struct {
	UserID           int64     `json:"user_id"`
	Balance          int64     `json:"balance"`
	LifetimeEarned   int64     `json:"lifetime_earned"`
	LifetimeRedeemed int64     `json:"lifetime_redeemed"`
	Tier             string    `json:"tier"`
	NextTier         string    `json:"next_tier,omitempty"`
	PointsToNextTier int64     `json:"points_to_next_tier,omitempty"`
	PolicyVersion    int       `json:"policy_version"`
	Retired          bool      `json:"retired"`
	CreatedAt        time.Time `json:"created_at"`
}

type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

func (b Bucket) Valid() bool {
	switch b {
	case BucketDay, BucketWeek, BucketMonth:
		return true
	}
	return false
}

type AnalyticsRow struct {
	BucketStart time.Time `json:"bucket_start"`
	Earned      int64     `json:"earned"`
	Redeemed    int64     `json:"redeemed"`
	Expired     int64     `json:"expired"`
	Adjusted    int64     `json:"adjusted"`
	Net         int64     `json:"net"`
}

type LeaderboardRow struct {
	Rank      int       `json:"rank"`
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"-"`
}
