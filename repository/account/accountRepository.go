package accountrepo

import (
	"context"
	"database/sql"
	"time"

	"loyalty/model"
)

type Repo interface {
	// Ensure creates the account if missing and reports whether it did.
	Ensure(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (bool, error)
	LockForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (*model.Account, error)
	ApplyPosting(ctx context.Context, tx *sql.Tx, userID, newBalance, earnedDelta, redeemedDelta int64, now time.Time) error
	Retire(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error

	Get(ctx context.Context, userID int64) (*model.Account, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

const accountColumns = `user_id, balance, lifetime_earned, lifetime_redeemed, created_at, updated_at, retired_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var retired sql.NullTime
	if err := row.Scan(&a.UserID, &a.Balance, &a.LifetimeEarned, &a.LifetimeRedeemed, &a.CreatedAt, &a.UpdatedAt, &retired); err != nil {
		return nil, err
	}
	if retired.Valid {
		t := retired.Time
		a.RetiredAt = &t
	}
	return &a, nil
}

func (r *repo) Ensure(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) (bool, error) {
	const q = `
INSERT INTO loyalty_accounts (user_id, balance, lifetime_earned, lifetime_redeemed, created_at, updated_at)
VALUES ($1, 0, 0, 0, $2, $2)
ON CONFLICT (user_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, q, userID, now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *repo) LockForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (*model.Account, error) {
	const q = `
SELECT ` + accountColumns + `
FROM loyalty_accounts
WHERE user_id = $1
FOR UPDATE`
	return scanAccount(tx.QueryRowContext(ctx, q, userID))
}

func (r *repo) ApplyPosting(ctx context.Context, tx *sql.Tx, userID, newBalance, earnedDelta, redeemedDelta int64, now time.Time) error {
	const q = `
UPDATE loyalty_accounts
SET balance = $2,
    lifetime_earned = lifetime_earned + $3,
    lifetime_redeemed = lifetime_redeemed + $4,
    updated_at = $5
WHERE user_id = $1`
	_, err := tx.ExecContext(ctx, q, userID, newBalance, earnedDelta, redeemedDelta, now)
	return err
}

func (r *repo) Retire(ctx context.Context, tx *sql.Tx, userID int64, now time.Time) error {
	const q = `
UPDATE loyalty_accounts
SET retired_at = COALESCE(retired_at, $2),
    updated_at = $2
WHERE user_id = $1`
	res, err := tx.ExecContext(ctx, q, userID, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *repo) Get(ctx context.Context, userID int64) (*model.Account, error) {
	const q = `
SELECT ` + accountColumns + `
FROM loyalty_accounts
WHERE user_id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, q, userID))
}

func (r *repo) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error) {
	const q = `
SELECT user_id, balance, created_at
FROM loyalty_accounts
WHERE retired_at IS NULL
ORDER BY balance DESC, created_at ASC, user_id ASC
LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.LeaderboardRow, 0, limit)
	for rows.Next() {
		var l model.LeaderboardRow
		if err := rows.Scan(&l.UserID, &l.Balance, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Rank = len(out) + 1
		out = append(out, l)
	}
	return out, rows.Err()
}
