// model/policy.go
package model

import (
	"encoding/json"
	"time"
)

type Tier struct {
	Name           string `json:"name"`
	MinLifetimePts int64  `json:"min_lifetime_points"`
}

// Policy is one immutable version of the loyalty configuration.
type Policy struct {
	Version           int           `json:"version"`
	PointsValidity    time.Duration `json:"-"`
	EarnRate          float64       `json:"earn_rate"`
	RedemptionTimeout time.Duration `json:"-"`
	Tiers             []Tier        `json:"tiers"`
	CreatedBy         string        `json:"created_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// MarshalJSON reports validity in days and the timeout in seconds, the units both are configured in.
func (p Policy) MarshalJSON() ([]byte, error) {
	type alias Policy
	return json.Marshal(struct {
		alias
		PointsValidityDays       int   `json:"points_validity_days"`
		RedemptionTimeoutSeconds int64 `json:"redemption_timeout_seconds"`
	}{
		alias:                    alias(p),
		PointsValidityDays:       int(p.PointsValidity / (24 * time.Hour)),
		RedemptionTimeoutSeconds: int64(p.RedemptionTimeout / time.Second),
	})
}

// TierFor returns the highest tier reached with lifetime points, and the next one if any.
func (p Policy) TierFor(lifetime int64) (current Tier, next *Tier) {
	for i, t := range p.Tiers {
		if lifetime >= t.MinLifetimePts {
			current = t
			continue
		}
		n := p.Tiers[i]
		return current, &n
	}
	return current, nil
}

// PolicyInput is the admin payload for a new policy version.
// swagger:model PolicyInput
type PolicyInput struct {
	PointsValidityDays       *int    `json:"points_validity_days" validate:"required"`
	EarnRate                 float64 `json:"earn_rate" validate:"required"`
	RedemptionTimeoutSeconds int64   `json:"redemption_timeout_seconds" validate:"required"`
	Tiers                    []Tier  `json:"tiers" validate:"required,min=1,dive"`
}
