package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"loyalty/model"
	accountrepo "loyalty/repository/account"
	ledgerrepo "loyalty/repository/ledger"
	"loyalty/util/clock"
	"loyalty/util/database"
	"loyalty/util/errs"
	"loyalty/util/metrics"
	"loyalty/util/retry"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	// MaxPostingAmount bounds a single posting in either direction.
	MaxPostingAmount = 1_000_000_000
)

// PolicySource yields the policy in force for an operation.
type PolicySource interface {
	Current(ctx context.Context) (*model.Policy, error)
}

type Service interface {
	// PostEntry appends one entry in its own transaction.
	PostEntry(ctx context.Context, p model.Posting) (*model.LedgerEntry, error)
	// Earn credits an order once per orderRef. points wins when positive,
	// otherwise the order total is converted with the policy earn rate.
	Earn(ctx context.Context, userID int64, orderRef string, points int64, orderTotal float64) (*model.LedgerEntry, error)
	// Post appends one entry inside tx. The caller owns the transaction and
	// supplies the policy loaded at the start of its operation.
	Post(ctx context.Context, tx *sql.Tx, pol *model.Policy, p model.Posting) (*model.LedgerEntry, error)
	History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
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

// OrderKey is the idempotency key of the earn posting for an order.
func OrderKey(orderRef string) string { return "order:" + orderRef }

func (s *service) PostEntry(ctx context.Context, p model.Posting) (*model.LedgerEntry, error) {
	if err := validatePosting(p); err != nil {
		return nil, err
	}
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.postWith(ctx, pol, p)
}

func (s *service) Earn(ctx context.Context, userID int64, orderRef string, points int64, orderTotal float64) (*model.LedgerEntry, error) {
	if orderRef == "" {
		return nil, errs.New(errs.InvalidAmount, "order_ref is required", errs.Details{"user_id": userID})
	}
	if points < 0 || orderTotal < 0 {
		return nil, errs.New(errs.InvalidAmount, "order points must not be negative", errs.Details{"user_id": userID, "order_ref": orderRef})
	}
	pol, err := s.policy.Current(ctx)
	if err != nil {
		return nil, err
	}
	amount := points
	if amount == 0 {
		raw := math.Floor(orderTotal * pol.EarnRate)
		if math.IsNaN(raw) || raw > MaxPostingAmount {
			return nil, errs.New(errs.InvalidAmount, "order earns too many points", errs.Details{
				"user_id":     userID,
				"order_ref":   orderRef,
				"order_total": orderTotal,
			})
		}
		amount = int64(raw)
	}
	if amount <= 0 {
		return nil, errs.New(errs.InvalidAmount, "order earns no points", errs.Details{
			"user_id":     userID,
			"order_ref":   orderRef,
			"order_total": orderTotal,
		})
	}
	p := model.Posting{
		UserID:   userID,
		Amount:   amount,
		Reason:   model.ReasonOrderPoints,
		OrderRef: &orderRef,
	}
	if err := validatePosting(p); err != nil {
		return nil, err
	}
	return s.postWith(ctx, pol, p)
}

func (s *service) postWith(ctx context.Context, pol *model.Policy, p model.Posting) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
			e, err := s.Post(ctx, tx, pol, p)
			out = e
			return err
		})
		return errs.Storage(err, "post entry")
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordPosting(string(out.Reason), out.Amount)
	return out, nil
}

func validatePosting(p model.Posting) error {
	if p.Amount == 0 {
		return errs.New(errs.InvalidAmount, "amount must not be zero", errs.Details{"user_id": p.UserID})
	}
	if p.Amount > MaxPostingAmount || p.Amount < -MaxPostingAmount {
		return errs.New(errs.InvalidAmount, "amount out of range", errs.Details{"user_id": p.UserID, "max": MaxPostingAmount})
	}
	if !p.Reason.Valid() {
		return errs.New(errs.InvalidAmount, "unknown reason", errs.Details{"reason": string(p.Reason)})
	}
	return nil
}

func (s *service) Post(ctx context.Context, tx *sql.Tx, pol *model.Policy, p model.Posting) (*model.LedgerEntry, error) {
	if err := validatePosting(p); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	if p.IdempotencyKey == nil && p.Reason == model.ReasonOrderPoints && p.OrderRef != nil {
		k := OrderKey(*p.OrderRef)
		p.IdempotencyKey = &k
	}

	earn := model.LedgerEntry{Amount: p.Amount, Reason: p.Reason}.IsEarn()
	if earn {
		if _, err := s.accounts.Ensure(ctx, tx, p.UserID, now); err != nil {
			return nil, err
		}
	}
	acc, err := s.accounts.LockForUpdate(ctx, tx, p.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "account not found", errs.Details{"user_id": p.UserID})
	}
	if err != nil {
		return nil, err
	}

	if p.IdempotencyKey != nil {
		existing, err := s.entries.FindByKey(ctx, tx, *p.IdempotencyKey)
		switch {
		case err == nil:
			if existing.UserID != p.UserID {
				return nil, errs.New(errs.InvalidState, "idempotency key belongs to another account",
					errs.Details{"user_id": p.UserID, "key": *p.IdempotencyKey})
			}
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	if acc.Retired() && !compensating(p.Reason) {
		return nil, errs.New(errs.InvalidState, "account is retired", errs.Details{"user_id": p.UserID})
	}

	if p.Amount > 0 && (acc.Balance > math.MaxInt64-p.Amount || acc.LifetimeEarned > math.MaxInt64-p.Amount) {
		return nil, errs.New(errs.InvalidAmount, "posting would overflow the account totals", errs.Details{
			"user_id": p.UserID,
			"balance": acc.Balance,
			"amount":  p.Amount,
		})
	}
	newBalance := acc.Balance + p.Amount
	if newBalance < 0 {
		return nil, errs.New(errs.InsufficientBalance, "insufficient points balance", errs.Details{
			"user_id":   p.UserID,
			"balance":   acc.Balance,
			"requested": -p.Amount,
		})
	}

	e := &model.LedgerEntry{
		UserID:         p.UserID,
		Amount:         p.Amount,
		Reason:         p.Reason,
		OrderRef:       p.OrderRef,
		RedemptionID:   p.RedemptionID,
		SourceEntryID:  p.SourceEntryID,
		IdempotencyKey: p.IdempotencyKey,
		PolicyVersion:  pol.Version,
		BalanceAfter:   newBalance,
		ExpiresAt:      p.ExpiresAt,
		CreatedAt:      now,
	}
	if earn && e.ExpiresAt == nil && pol.PointsValidity > 0 {
		exp := now.Add(pol.PointsValidity)
		e.ExpiresAt = &exp
	}
	if !earn {
		e.ExpiresAt = nil
	}
	if err := s.entries.Insert(ctx, tx, e); err != nil {
		if errors.Is(err, ledgerrepo.ErrDuplicateKey) {
			return nil, errs.New(errs.InvalidState, "idempotency key already used", errs.Details{
				"user_id": p.UserID,
				"key":     *p.IdempotencyKey,
			})
		}
		return nil, err
	}

	var earnedDelta, redeemedDelta int64
	switch {
	case earn:
		earnedDelta = p.Amount
	case p.Reason == model.ReasonRedemptionDebit, p.Reason == model.ReasonRedemptionReversal:
		redeemedDelta = -p.Amount
	}
	if err := s.accounts.ApplyPosting(ctx, tx, p.UserID, newBalance, earnedDelta, redeemedDelta, now); err != nil {
		return nil, err
	}
	return e, nil
}

// compensating reasons settle earlier postings and stay allowed on retired accounts.
func compensating(r model.Reason) bool {
	return r == model.ReasonRedemptionReversal || r == model.ReasonExpiry
}

func (s *service) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if _, err := s.accounts.Get(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.NotFound, "account not found", errs.Details{"user_id": userID})
		}
		return nil, errs.Storage(err, "get account")
	}
	out, err := s.entries.History(ctx, userID, limit)
	if err != nil {
		return nil, errs.Storage(err, "ledger history")
	}
	return out, nil
}
