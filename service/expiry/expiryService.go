package expiry

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"loyalty/model"
	accountrepo "loyalty/repository/account"
	ledgerrepo "loyalty/repository/ledger"
	"loyalty/service/ledger"
	"loyalty/util/clock"
	"loyalty/util/database"
	"loyalty/util/errs"
	"loyalty/util/metrics"
	"loyalty/util/retry"
)

const candidateBatch = 500

// Result summarises one sweep.
type Result struct {
	Accounts int   `json:"accounts"`
	Entries  int   `json:"entries"`
	Points   int64 `json:"points"`
	Failed   int   `json:"failed"`
}

type Sweeper interface {
	// Sweep posts expiry entries for every unconsumed earn entry past its expiry.
	Sweep(ctx context.Context) (Result, error)
}

type sweeper struct {
	db       database.Beginner
	accounts accountrepo.Repo
	entries  ledgerrepo.Repo
	ledger   ledger.Service
	policy   ledger.PolicySource
	clock    clock.Clock
	retry    *retry.Executor
	log      *slog.Logger
}

func New(db database.Beginner, accounts accountrepo.Repo, entries ledgerrepo.Repo, l ledger.Service, policy ledger.PolicySource,
	clk clock.Clock, rx *retry.Executor, log *slog.Logger) Sweeper {
	return &sweeper{db: db, accounts: accounts, entries: entries, ledger: l, policy: policy, clock: clk, retry: rx, log: log}
}

func (s *sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.clock.Now()
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return res, err
	}

	var after int64
	for {
		ids, err := s.entries.SweepCandidates(ctx, now, after, candidateBatch)
		if err != nil {
			return res, errs.Storage(err, "sweep candidates")
		}
		for _, userID := range ids {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			n, pts, err := s.sweepAccount(ctx, pol, userID, now)
			if err != nil {
				res.Failed++
				s.log.Error("expiry sweep failed for account", "user_id", userID, "err", err)
				continue
			}
			if n > 0 {
				res.Accounts++
				res.Entries += n
				res.Points += pts
			}
		}
		if len(ids) < candidateBatch {
			break
		}
		after = ids[len(ids)-1]
	}

	metrics.RecordExpiredPoints(res.Points)
	return res, nil
}

func (s *sweeper) sweepAccount(ctx context.Context, pol *model.Policy, userID int64, now time.Time) (int, int64, error) {
	var (
		entries int
		points  int64
	)
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		entries, points = 0, 0
		err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
			if _, err := s.accounts.LockForUpdate(ctx, tx, userID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return errs.New(errs.NotFound, "account not found", errs.Details{"user_id": userID})
				}
				return err
			}
			list, err := s.entries.ListForAccount(ctx, tx, userID)
			if err != nil {
				return err
			}
			for _, plan := range ledger.PlanExpiry(list, now) {
				key := plan.Key()
				src := plan.SourceEntryID
				if _, err := s.ledger.Post(ctx, tx, pol, model.Posting{
					UserID:         userID,
					Amount:         -plan.Points,
					Reason:         model.ReasonExpiry,
					SourceEntryID:  &src,
					IdempotencyKey: &key,
				}); err != nil {
					return err
				}
				entries++
				points += plan.Points
			}
			return nil
		})
		return errs.Storage(err, "sweep account")
	})
	if err != nil {
		return 0, 0, err
	}
	if points > 0 {
		metrics.RecordPosting(string(model.ReasonExpiry), -points)
	}
	return entries, points, nil
}
