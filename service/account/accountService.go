package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loyalty/model"
	accountrepo "loyalty/repository/account"
	ledgerrepo "loyalty/repository/ledger"
	"loyalty/util/clock"
	"loyalty/util/database"
	"loyalty/util/errs"
	"loyalty/util/retry"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	DefaultAnalyticsWindow  = 90 * 24 * time.Hour
)

type PolicySource interface {
	Current(ctx context.Context) (*model.Policy, error)
}

type Service interface {
	// Initialize creates the account if missing. Calling it again is a no-op.
	Initialize(ctx context.Context, userID int64) (*model.Status, error)
	Retire(ctx context.Context, userID int64) (*model.Status, error)
	Status(ctx context.Context, userID int64) (*model.Status, error)
	Analytics(ctx context.Context, userID int64, bucket model.Bucket, from, to *time.Time) ([]model.AnalyticsRow, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error)
}

type service struct {
	db       database.Beginner
	accounts accountrepo.Repo
	entries  ledgerrepo.Repo
	policy   PolicySource
	clock    clock.Clock
	retry    *retry.Executor
}

func New(db database.Beginner, accounts accountrepo.Repo, entries ledgerrepo.Repo, policy PolicySource, clk clock.Clock, rx *retry.Executor) Service {
	return &service{db: db, accounts: accounts, entries: entries, policy: policy, clock: clk, retry: rx}
}

func notFound(userID int64) error {
	return errs.New(errs.NotFound, "account not found", errs.Details{"user_id": userID})
}

func (s *service) Initialize(ctx context.Context, userID int64) (*model.Status, error) {
	if userID <= 0 {
		return nil, errs.New(errs.InvalidAmount, "user id must be positive", errs.Details{"user_id": userID})
	}
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
			_, err := s.accounts.Ensure(ctx, tx, userID, s.clock.Now())
			return err
		})
		return errs.Storage(err, "initialize account")
	})
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, userID)
}

func (s *service) Retire(ctx context.Context, userID int64) (*model.Status, error) {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
			err := s.accounts.Retire(ctx, tx, userID, s.clock.Now())
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(userID)
			}
			return err
		})
		return errs.Storage(err, "retire account")
	})
	if err != nil {
		return nil, err
	}
	return s.Status(ctx, userID)
}

func (s *service) Status(ctx context.Context, userID int64) (*model.Status, error) {
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(userID)
	}
	if err != nil {
		return nil, errs.Storage(err, "get account")
	}

	cur, next := pol.TierFor(acc.LifetimeEarned)
	st := &model.Status{
		UserID:           acc.UserID,
		Balance:          acc.Balance,
		LifetimeEarned:   acc.LifetimeEarned,
		LifetimeRedeemed: acc.LifetimeRedeemed,
		Tier:             cur.Name,
		PolicyVersion:    pol.Version,
		Retired:          acc.Retired(),
		CreatedAt:        acc.CreatedAt,
	}
	if next != nil {
		st.NextTier = next.Name
		st.PointsToNextTier = next.MinLifetimePts - acc.LifetimeEarned
	}
	return st, nil
}

func (s *service) Analytics(ctx context.Context, userID int64, bucket model.Bucket, from, to *time.Time) ([]model.AnalyticsRow, error) {
	if bucket == "" {
		bucket = model.BucketDay
	}
	if !bucket.Valid() {
		return nil, errs.New(errs.InvalidAmount, "bucket must be day, week or month", errs.Details{"bucket": string(bucket)})
	}
	end := s.clock.Now()
	if to != nil {
		end = to.UTC()
	}
	start := end.Add(-DefaultAnalyticsWindow)
	if from != nil {
		start = from.UTC()
	}
	if !start.Before(end) {
		return nil, errs.New(errs.InvalidAmount, "from must be before to", errs.Details{"from": start, "to": end})
	}

	if _, err := s.accounts.Get(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userID)
		}
		return nil, errs.Storage(err, "get account")
	}
	rows, err := s.entries.Analytics(ctx, userID, bucket, start, end)
	if err != nil {
		return nil, errs.Storage(err, "account analytics")
	}
	return rows, nil
}

func (s *service) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardLimit
	case limit > MaxLeaderboardLimit:
		limit = MaxLeaderboardLimit
	}
	rows, err := s.accounts.Leaderboard(ctx, limit)
	if err != nil {
		return nil, errs.Storage(err, "leaderboard")
	}
	return rows, nil
}
