package policy

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loyalty/model"
	policyrepo "loyalty/repository/policy"
	"loyalty/util/clock"
	"loyalty/util/errs"
)

const (
	MaxEarnRate          = 1000
	MaxRedemptionTimeout = 7 * 24 * time.Hour
	MaxPointsValidity    = 100 * 365 * 24 * time.Hour
)

type Service interface {
	Current(ctx context.Context) (*model.Policy, error)
	Set(ctx context.Context, in model.PolicyInput, actor string) (*model.Policy, error)
}

type service struct {
	r     policyrepo.Repo
	def   model.Policy
	clock clock.Clock
}

// New returns the policy service. def is served as version 0 until a policy is stored.
func New(r policyrepo.Repo, def model.Policy, clk clock.Clock) Service {
	def.Version = 0
	return &service{r: r, def: def, clock: clk}
}

func (s *service) Current(ctx context.Context) (*model.Policy, error) {
	p, err := s.r.Latest(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		d := s.def
		d.Tiers = append([]model.Tier(nil), s.def.Tiers...)
		return &d, nil
	}
	if err != nil {
		return nil, errs.Storage(err, "load policy")
	}
	return p, nil
}

func (s *service) Set(ctx context.Context, in model.PolicyInput, actor string) (*model.Policy, error) {
	if in.PointsValidityDays == nil {
		return nil, errs.New(errs.ConfigInvalid, "points_validity_days is required", nil)
	}
	validity, err := ValidityFromDays(*in.PointsValidityDays)
	if err != nil {
		return nil, err
	}
	timeout, err := TimeoutFromSeconds(in.RedemptionTimeoutSeconds)
	if err != nil {
		return nil, err
	}
	p := &model.Policy{
		PointsValidity:    validity,
		EarnRate:          in.EarnRate,
		RedemptionTimeout: timeout,
		Tiers:             in.Tiers,
		CreatedBy:         actor,
		CreatedAt:         s.clock.Now(),
	}
	if err := Validate(*p); err != nil {
		return nil, err
	}
	if err := s.r.Insert(ctx, p); err != nil {
		return nil, errs.Storage(err, "insert policy")
	}
	return p, nil
}

// ValidityFromDays converts a day count, rejecting values that would not fit a policy.
func ValidityFromDays(days int) (time.Duration, error) {
	if days < 0 || int64(days) > int64(MaxPointsValidity/(24*time.Hour)) {
		return 0, errs.New(errs.ConfigInvalid, "points validity must be between 0 and 100 years",
			errs.Details{"field": "points_validity_days", "value": days})
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

func TimeoutFromSeconds(seconds int64) (time.Duration, error) {
	if seconds <= 0 || seconds > int64(MaxRedemptionTimeout/time.Second) {
		return 0, errs.New(errs.ConfigInvalid, "redemption timeout must be positive and at most 7 days",
			errs.Details{"field": "redemption_timeout_seconds", "value": seconds})
	}
	return time.Duration(seconds) * time.Second, nil
}

// Validate checks p and reports the first offending field as ConfigInvalid.
func Validate(p model.Policy) error {
	invalid := func(field, msg string) error {
		return errs.New(errs.ConfigInvalid, msg, errs.Details{"field": field})
	}
	if p.PointsValidity < 0 || p.PointsValidity > MaxPointsValidity {
		return invalid("points_validity_days", "points validity must be between 0 and 100 years")
	}
	if p.EarnRate <= 0 || p.EarnRate > MaxEarnRate {
		return invalid("earn_rate", "earn rate must be in (0, 1000]")
	}
	if p.RedemptionTimeout <= 0 || p.RedemptionTimeout > MaxRedemptionTimeout {
		return invalid("redemption_timeout_seconds", "redemption timeout must be positive and at most 7 days")
	}
	if len(p.Tiers) == 0 {
		return invalid("tiers", "at least one tier is required")
	}
	if p.Tiers[0].MinLifetimePts != 0 {
		return invalid("tiers", "first tier must start at 0")
	}
	seen := make(map[string]bool, len(p.Tiers))
	for i, t := range p.Tiers {
		if t.Name == "" {
			return invalid("tiers", "tier name is required")
		}
		if seen[t.Name] {
			return errs.New(errs.ConfigInvalid, "duplicate tier name", errs.Details{"field": "tiers", "tier": t.Name})
		}
		seen[t.Name] = true
		if i > 0 && t.MinLifetimePts <= p.Tiers[i-1].MinLifetimePts {
			return errs.New(errs.ConfigInvalid, "tiers must be strictly ascending", errs.Details{"field": "tiers", "tier": t.Name})
		}
	}
	return nil
}
