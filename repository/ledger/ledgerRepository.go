package ledgerrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"loyalty/model"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateKey reports that another entry already holds the idempotency key.
var ErrDuplicateKey = errors.New("ledger: idempotency key already used")

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error
	FindByKey(ctx context.Context, tx *sql.Tx, key string) (*model.LedgerEntry, error)
	// ListForAccount returns every entry of the account, oldest first.
	ListForAccount(ctx context.Context, tx *sql.Tx, userID int64) ([]model.LedgerEntry, error)

	History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
	Analytics(ctx context.Context, userID int64, bucket model.Bucket, from, to time.Time) ([]model.AnalyticsRow, error)
	// SweepCandidates returns accounts after afterID holding points with at least one earn entry expired at now.
	SweepCandidates(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db: db} }

const entryColumns = `id, user_id, amount, reason, order_ref, redemption_id, source_entry_id, idempotency_key, policy_version, balance_after, expires_at, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var (
		e          model.LedgerEntry
		reason     string
		orderRef   sql.NullString
		redemption sql.NullString
		source     sql.NullInt64
		key        sql.NullString
		expires    sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &reason, &orderRef, &redemption, &source, &key,
		&e.PolicyVersion, &e.BalanceAfter, &expires, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Reason = model.Reason(reason)
	if orderRef.Valid {
		e.OrderRef = &orderRef.String
	}
	if redemption.Valid {
		e.RedemptionID = &redemption.String
	}
	if source.Valid {
		e.SourceEntryID = &source.Int64
	}
	if key.Valid {
		e.IdempotencyKey = &key.String
	}
	if expires.Valid {
		e.ExpiresAt = &expires.Time
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]model.LedgerEntry, error) {
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) error {
	const q = `
INSERT INTO loyalty_ledger (user_id, amount, reason, order_ref, redemption_id, source_entry_id, idempotency_key, policy_version, balance_after, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id`
	err := tx.QueryRowContext(ctx, q,
		e.UserID, e.Amount, string(e.Reason), e.OrderRef, e.RedemptionID, e.SourceEntryID, e.IdempotencyKey,
		e.PolicyVersion, e.BalanceAfter, e.ExpiresAt, e.CreatedAt,
	).Scan(&e.ID)
	return mapDuplicateKey(err)
}

// mapDuplicateKey turns a unique violation on idempotency_key into ErrDuplicateKey.
func mapDuplicateKey(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
		strings.Contains(strings.ToLower(pgErr.ConstraintName), "idempotency_key") {
		return ErrDuplicateKey
	}
	return err
}

func (r *repo) FindByKey(ctx context.Context, tx *sql.Tx, key string) (*model.LedgerEntry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM loyalty_ledger
WHERE idempotency_key = $1`
	return scanEntry(tx.QueryRowContext(ctx, q, key))
}

func (r *repo) ListForAccount(ctx context.Context, tx *sql.Tx, userID int64) ([]model.LedgerEntry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM loyalty_ledger
WHERE user_id = $1
ORDER BY created_at ASC, id ASC`
	rows, err := tx.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (r *repo) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM loyalty_ledger
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (r *repo) Analytics(ctx context.Context, userID int64, bucket model.Bucket, from, to time.Time) ([]model.AnalyticsRow, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("invalid bucket %q", bucket)
	}
	const q = `
SELECT date_trunc($2, created_at) AS bucket_start,
       COALESCE(SUM(amount) FILTER (WHERE amount > 0 AND reason IN ('order-points', 'manual-adjustment')), 0) AS earned,
       COALESCE(-SUM(amount) FILTER (WHERE reason IN ('redemption-debit', 'redemption-reversal')), 0) AS redeemed,
       COALESCE(-SUM(amount) FILTER (WHERE reason = 'expiry'), 0) AS expired,
       COALESCE(-SUM(amount) FILTER (WHERE amount < 0 AND reason = 'manual-adjustment'), 0) AS adjusted,
       COALESCE(SUM(amount), 0) AS net
FROM loyalty_ledger
WHERE user_id = $1
  AND created_at >= $3
  AND created_at < $4
GROUP BY bucket_start
ORDER BY bucket_start ASC`
	rows, err := r.db.QueryContext(ctx, q, userID, string(bucket), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnalyticsRow
	for rows.Next() {
		var a model.AnalyticsRow
		if err := rows.Scan(&a.BucketStart, &a.Earned, &a.Redeemed, &a.Expired, &a.Adjusted, &a.Net); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repo) SweepCandidates(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	const q = `
SELECT a.user_id
FROM loyalty_accounts a
WHERE a.balance > 0
  AND a.user_id > $2
  AND EXISTS (
      SELECT 1 FROM loyalty_ledger l
      WHERE l.user_id = a.user_id
        AND l.amount > 0
        AND l.expires_at IS NOT NULL
        AND l.expires_at <= $1
  )
ORDER BY a.user_id
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, now, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
