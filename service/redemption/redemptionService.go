package redemption

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"loyalty/model"
	issuerrepo "loyalty/repository/issuer"
	redemptionrepo "loyalty/repository/redemption"
	"loyalty/service/ledger"
	"loyalty/util/clock"
	"loyalty/util/database"
	"loyalty/util/errs"
	"loyalty/util/metrics"
	"loyalty/util/retry"

	"github.com/google/uuid"
)

const (
	ReasonUser    = "user"
	ReasonTimeout = "timeout"

	expiredBatch = 200
)

type Service interface {
	Reserve(ctx context.Context, userID, points int64) (*model.Redemption, error)
	Confirm(ctx context.Context, id string) (*model.Redemption, error)
	Use(ctx context.Context, id string) (*model.Redemption, error)
	Cancel(ctx context.Context, id, reason string) (*model.Redemption, error)
	Get(ctx context.Context, id string) (*model.Redemption, error)
	// CancelExpired cancels pending redemptions whose hold ran out and returns how many it cancelled.
	CancelExpired(ctx context.Context) (int, error)
}

type service struct {
	db     database.Beginner
	r      redemptionrepo.Repo
	ledger ledger.Service
	issuer issuerrepo.Repo
	policy ledger.PolicySource
	clock  clock.Clock
	retry  *retry.Executor
	log    *slog.Logger
}

func New(db database.Beginner, r redemptionrepo.Repo, l ledger.Service, issuer issuerrepo.Repo, policy ledger.PolicySource,
	clk clock.Clock, rx *retry.Executor, log *slog.Logger) Service {
	return &service{db: db, r: r, ledger: l, issuer: issuer, policy: policy, clock: clk, retry: rx, log: log}
}

func DebitKey(id string) string    { return "redemption:" + id + ":debit" }
func ReversalKey(id string) string { return "redemption:" + id + ":reversal" }

func notFound(id string) error {
	return errs.New(errs.NotFound, "redemption not found", errs.Details{"redemption_id": id})
}

// inTx runs fn in a retried transaction and classifies storage failures.
func (s *service) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return errs.Storage(database.InTx(ctx, s.db, fn), op)
	})
}

func (s *service) lock(ctx context.Context, tx *sql.Tx, id string) (*model.Redemption, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}
	red, err := s.r.GetForUpdate(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return red, err
}

func (s *service) Reserve(ctx context.Context, userID, points int64) (*model.Redemption, error) {
	if points <= 0 {
		return nil, errs.New(errs.InvalidAmount, "points must be positive", errs.Details{"user_id": userID, "points": points})
	}
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var out *model.Redemption
	err = s.inTx(ctx, "reserve redemption", func(tx *sql.Tx) error {
		key := DebitKey(id)
		e, err := s.ledger.Post(ctx, tx, pol, model.Posting{
			UserID:         userID,
			Amount:         -points,
			Reason:         model.ReasonRedemptionDebit,
			RedemptionID:   &id,
			IdempotencyKey: &key,
		})
		if err != nil {
			return err
		}
		now := s.clock.Now()
		red := &model.Redemption{
			ID:            id,
			UserID:        userID,
			Points:        points,
			Status:        model.RedemptionPending,
			DebitEntryID:  e.ID,
			PolicyVersion: pol.Version,
			ExpiresAt:     now.Add(pol.RedemptionTimeout),
			CreatedAt:     now,
		}
		if err := s.r.Insert(ctx, tx, red); err != nil {
			return err
		}
		out = red
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordPosting(string(model.ReasonRedemptionDebit), -points)
	metrics.RecordRedemption(string(model.RedemptionPending))
	return out, nil
}

func (s *service) Confirm(ctx context.Context, id string) (*model.Redemption, error) {
	red, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.confirmable(red); err != nil {
		return nil, err
	}

	issued, err := s.issuer.Issue(ctx, issuerrepo.IssueReq{RedemptionID: red.ID, UserID: red.UserID, Points: red.Points})
	if err != nil {
		return nil, errs.Storage(err, "issue reward")
	}

	err = s.inTx(ctx, "confirm redemption", func(tx *sql.Tx) error {
		cur, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.confirmable(cur); err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.r.MarkConfirmed(ctx, tx, id, issued.Code, now); err != nil {
			return s.stale(cur, model.RedemptionConfirmed, err)
		}
		cur.Status = model.RedemptionConfirmed
		cur.RewardCode = &issued.Code
		cur.ConfirmedAt = &now
		red = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRedemption(string(model.RedemptionConfirmed))
	return red, nil
}

func (s *service) confirmable(red *model.Redemption) error {
	if err := checkTransition(red, model.RedemptionConfirmed); err != nil {
		return err
	}
	if !s.clock.Now().Before(red.ExpiresAt) {
		return errs.New(errs.InvalidState, "redemption hold expired", errs.Details{
			"redemption_id": red.ID,
			"expires_at":    red.ExpiresAt,
		})
	}
	return nil
}

// stale maps a lost conditional update to InvalidState.
func (s *service) stale(red *model.Redemption, to model.RedemptionStatus, err error) error {
	if errors.Is(err, redemptionrepo.ErrStaleState) {
		return errs.New(errs.InvalidState, "redemption status changed", errs.Details{
			"redemption_id": red.ID,
			"target":        string(to),
		})
	}
	return err
}

func (s *service) Use(ctx context.Context, id string) (*model.Redemption, error) {
	var out *model.Redemption
	err := s.inTx(ctx, "use redemption", func(tx *sql.Tx) error {
		red, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(red, model.RedemptionUsed); err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.r.MarkUsed(ctx, tx, id, now); err != nil {
			return s.stale(red, model.RedemptionUsed, err)
		}
		red.Status = model.RedemptionUsed
		red.UsedAt = &now
		out = red
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRedemption(string(model.RedemptionUsed))
	return out, nil
}

func (s *service) Cancel(ctx context.Context, id, reason string) (*model.Redemption, error) {
	if reason == "" {
		reason = ReasonUser
	}
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out       *model.Redemption
		cancelled bool
	)
	err = s.inTx(ctx, "cancel redemption", func(tx *sql.Tx) error {
		cancelled = false
		red, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if red.Status == model.RedemptionCancelled {
			out = red
			return nil
		}
		if err := checkTransition(red, model.RedemptionCancelled); err != nil {
			return err
		}

		key := ReversalKey(id)
		e, err := s.ledger.Post(ctx, tx, pol, model.Posting{
			UserID:         red.UserID,
			Amount:         red.Points,
			Reason:         model.ReasonRedemptionReversal,
			RedemptionID:   &id,
			IdempotencyKey: &key,
		})
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.r.MarkCancelled(ctx, tx, id, e.ID, reason, now); err != nil {
			return s.stale(red, model.RedemptionCancelled, err)
		}
		red.Status = model.RedemptionCancelled
		red.ReversalEntryID = &e.ID
		red.CancelReason = &reason
		red.CancelledAt = &now
		out = red
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		metrics.RecordPosting(string(model.ReasonRedemptionReversal), out.Points)
		metrics.RecordRedemption(string(model.RedemptionCancelled))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id string) (*model.Redemption, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}
	red, err := s.r.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errs.Storage(err, "get redemption")
	}
	return red, nil
}

func (s *service) CancelExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := s.r.ListExpiredPending(ctx, s.clock.Now(), expiredBatch)
		if err != nil {
			return total, errs.Storage(err, "list expired redemptions")
		}

		progress := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			red, err := s.Cancel(ctx, id, ReasonTimeout)
			switch {
			case errs.Is(err, errs.InvalidState):
				// confirmed in the meantime
				continue
			case err != nil:
				s.log.Error("auto-cancel redemption failed", "redemption_id", id, "err", err)
				continue
			}
			if red.CancelReason != nil && *red.CancelReason == ReasonTimeout {
				progress++
			}
		}
		total += progress
		if len(ids) < expiredBatch || progress == 0 {
			return total, nil
		}
	}
}
