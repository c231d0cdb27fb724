package ledger

import (
	"sort"
	"strconv"
	"time"

	"loyalty/model"
)

// Replay recomputes a balance from its entries.
func Replay(entries []model.LedgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

// ExpiryPlan is one expiry posting the sweeper owes for an earn entry.
type ExpiryPlan struct {
	SourceEntryID int64
	Points        int64
	// Cumulative is the total expired from the source once this plan is posted.
	Cumulative int64
}

// Key is the idempotency key of the planned expiry entry.
func (p ExpiryPlan) Key() string {
	return "expiry:" + strconv.FormatInt(p.SourceEntryID, 10) + ":" + strconv.FormatInt(p.Cumulative, 10)
}

// PlanExpiry allocates net consumption to earn entries oldest first and
// returns the unconsumed remainder of every earn entry expired at now.
// The total planned never exceeds the replayed balance.
func PlanExpiry(entries []model.LedgerEntry, now time.Time) []ExpiryPlan {
	sorted := make([]model.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	expired := make(map[int64]int64)
	var consumed int64
	for _, e := range sorted {
		switch {
		case e.Reason == model.ReasonExpiry && e.SourceEntryID != nil:
			expired[*e.SourceEntryID] += -e.Amount
		case e.IsConsumption():
			consumed -= e.Amount
		}
	}
	if consumed < 0 {
		consumed = 0
	}

	balance := Replay(sorted)
	var plans []ExpiryPlan
	for _, e := range sorted {
		if !e.IsEarn() {
			continue
		}
		avail := e.Amount - expired[e.ID]
		if avail <= 0 {
			continue
		}
		take := min(avail, consumed)
		consumed -= take
		avail -= take

		if avail == 0 || e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			continue
		}
		pts := min(avail, balance)
		if pts <= 0 {
			continue
		}
		balance -= pts
		plans = append(plans, ExpiryPlan{SourceEntryID: e.ID, Points: pts, Cumulative: expired[e.ID] + pts})
	}
	return plans
}
