package config

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"loyalty/model"
	"loyalty/service/policy"
	"loyalty/util/errs"
	"loyalty/util/retry"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Load reads .env when present, then decodes the environment into App.
func Load() (App, error) {
	_ = godotenv.Load()

	var cfg App
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return App{}, errs.Wrap(errs.ConfigInvalid, err, "invalid environment", nil)
	}
	if _, err := cfg.DefaultPolicy(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// DefaultPolicy builds the configured fallback policy and validates it.
func (a App) DefaultPolicy() (model.Policy, error) {
	tiers, err := ParseTiers(a.Tiers)
	if err != nil {
		return model.Policy{}, err
	}
	validity, err := policy.ValidityFromDays(a.PointsValidityDays)
	if err != nil {
		return model.Policy{}, err
	}
	// Policies are stored and served in whole seconds.
	if a.RedemptionTimeout%time.Second != 0 {
		return model.Policy{}, errs.New(errs.ConfigInvalid, "redemption timeout must be a whole number of seconds",
			errs.Details{"field": "REDEMPTION_TIMEOUT", "value": a.RedemptionTimeout.String()})
	}
	p := model.Policy{
		Version:           0,
		PointsValidity:    validity,
		EarnRate:          a.EarnRate,
		RedemptionTimeout: a.RedemptionTimeout,
		Tiers:             tiers,
		CreatedBy:         "config",
	}
	if err := policy.Validate(p); err != nil {
		return model.Policy{}, err
	}
	return p, nil
}

// ParseTiers parses "bronze:0;silver:1000".
func ParseTiers(s string) ([]model.Tier, error) {
	var out []model.Tier
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, threshold, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errs.New(errs.ConfigInvalid, "tier must be name:min_lifetime_points", errs.Details{"tier": part})
		}
		n, err := strconv.ParseInt(strings.TrimSpace(threshold), 10, 64)
		if err != nil {
			return nil, errs.Wrap(errs.ConfigInvalid, err, "tier threshold must be an integer", errs.Details{"tier": part})
		}
		out = append(out, model.Tier{Name: strings.TrimSpace(name), MinLifetimePts: n})
	}
	return out, nil
}

func (a App) Retry() retry.Config {
	return retry.Config{MaxRetries: a.RetryMaxRetries, BaseDelay: a.RetryBaseDelay, MaxDelay: a.RetryMaxDelay}
}

func (a App) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
