package redemptionrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loyalty/model"
)

// ErrStaleState is returned when a transition finds the redemption in another status.
var ErrStaleState = errors.New("redemption status changed")

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, r *model.Redemption) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*model.Redemption, error)
	MarkConfirmed(ctx context.Context, tx *sql.Tx, id, code string, at time.Time) error
	MarkUsed(ctx context.Context, tx *sql.Tx, id string, at time.Time) error
	MarkCancelled(ctx context.Context, tx *sql.Tx, id string, reversalID int64, reason string, at time.Time) error

	Get(ctx context.Context, id string) (*model.Redemption, error)
	// ListExpiredPending returns ids of pending redemptions whose hold ended at or before now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

const redemptionColumns = `id, user_id, points, status, reward_code, debit_entry_id, reversal_entry_id, policy_version,
expires_at, created_at, confirmed_at, used_at, cancelled_at, cancel_reason`

func scanRedemption(row interface{ Scan(...any) error }) (*model.Redemption, error) {
	var (
		r                          model.Redemption
		status                     string
		code, reason               sql.NullString
		reversal                   sql.NullInt64
		confirmed, used, cancelled sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Points, &status, &code, &r.DebitEntryID, &reversal, &r.PolicyVersion,
		&r.ExpiresAt, &r.CreatedAt, &confirmed, &used, &cancelled, &reason)
	if err != nil {
		return nil, err
	}
	r.Status = model.RedemptionStatus(status)
	if code.Valid {
		r.RewardCode = &code.String
	}
	if reason.Valid {
		r.CancelReason = &reason.String
	}
	if reversal.Valid {
		r.ReversalEntryID = &reversal.Int64
	}
	if confirmed.Valid {
		r.ConfirmedAt = &confirmed.Time
	}
	if used.Valid {
		r.UsedAt = &used.Time
	}
	if cancelled.Valid {
		r.CancelledAt = &cancelled.Time
	}
	return &r, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, red *model.Redemption) error {
	const q = `
INSERT INTO loyalty_redemptions (id, user_id, points, status, debit_entry_id, policy_version, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, q, red.ID, red.UserID, red.Points, string(red.Status), red.DebitEntryID,
		red.PolicyVersion, red.ExpiresAt, red.CreatedAt)
	return err
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*model.Redemption, error) {
	const q = `
SELECT ` + redemptionColumns + `
FROM loyalty_redemptions
WHERE id = $1
FOR UPDATE`
	return scanRedemption(tx.QueryRowContext(ctx, q, id))
}

func (r *repo) Get(ctx context.Context, id string) (*model.Redemption, error) {
	const q = `
SELECT ` + redemptionColumns + `
FROM loyalty_redemptions
WHERE id = $1`
	return scanRedemption(r.db.QueryRowContext(ctx, q, id))
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *repo) MarkConfirmed(ctx context.Context, tx *sql.Tx, id, code string, at time.Time) error {
	const q = `
UPDATE loyalty_redemptions
SET status = 'confirmed', reward_code = $2, confirmed_at = $3
WHERE id = $1 AND status = 'pending'`
	return expectOne(tx.ExecContext(ctx, q, id, code, at))
}

func (r *repo) MarkUsed(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	const q = `
UPDATE loyalty_redemptions
SET status = 'used', used_at = $2
WHERE id = $1 AND status = 'confirmed'`
	return expectOne(tx.ExecContext(ctx, q, id, at))
}

func (r *repo) MarkCancelled(ctx context.Context, tx *sql.Tx, id string, reversalID int64, reason string, at time.Time) error {
	const q = `
UPDATE loyalty_redemptions
SET status = 'cancelled', reversal_entry_id = $2, cancel_reason = $3, cancelled_at = $4
WHERE id = $1 AND status = 'pending'`
	return expectOne(tx.ExecContext(ctx, q, id, reversalID, reason, at))
}

func (r *repo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const q = `
SELECT id
FROM loyalty_redemptions
WHERE status = 'pending' AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
