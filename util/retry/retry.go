// Package retry runs storage work under a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"loyalty/util/errs"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ShouldRetry decides which failures are retried. Defaults to StorageUnavailable only.
	ShouldRetry func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(err error) bool { return errs.Is(err, errs.StorageUnavailable) }
	}
	return cfg
}

// Executor retries transient failures.
type Executor struct {
	exec failsafe.Executor[any]
}

func New(cfg Config) *Executor {
	cfg = normalize(cfg)
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && cfg.ShouldRetry(err)
		}).
		ReturnLastFailure().
		Build()
	return &Executor{exec: failsafe.With[any](policy)}
}

// Do runs fn until it succeeds, fails permanently, retries run out or ctx ends.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.exec.WithContext(ctx).Run(func() error {
		return fn(ctx)
	})
}
