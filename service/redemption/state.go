package redemption

import (
	"loyalty/model"
	"loyalty/util/errs"
)

var transitions = map[model.RedemptionStatus][]model.RedemptionStatus{
	model.RedemptionPending:   {model.RedemptionConfirmed, model.RedemptionCancelled},
	model.RedemptionConfirmed: {model.RedemptionUsed},
}

// CanTransition reports whether a redemption in from may move to to.
func CanTransition(from, to model.RedemptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(r *model.Redemption, to model.RedemptionStatus) error {
	if CanTransition(r.Status, to) {
		return nil
	}
	return errs.New(errs.InvalidState, "redemption cannot move to "+string(to), errs.Details{
		"redemption_id": r.ID,
		"status":        string(r.Status),
		"target":        string(to),
	})
}
