package ledgerrepo

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"loyalty/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	columns = []string{"id", "user_id", "amount", "reason", "order_ref", "redemption_id", "source_entry_id", "idempotency_key", "policy_version", "balance_after", "expires_at", "created_at"}
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestInsert_ReturnsID(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	ref := "O1"
	key := "order:O1"
	exp := now.Add(24 * time.Hour)
	e := &model.LedgerEntry{
		UserID: 7, Amount: 100, Reason: model.ReasonOrderPoints, OrderRef: &ref, IdempotencyKey: &key,
		PolicyVersion: 2, BalanceAfter: 100, ExpiresAt: &exp, CreatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO loyalty_ledger")).
		WithArgs(int64(7), int64(100), "order-points", "O1", nil, nil, "order:O1", 2, int64(100), exp, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, r.Insert(context.Background(), tx, e))
	require.NoError(t, tx.Commit())
	require.Equal(t, int64(11), e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_DuplicateKey(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	key := "order:O1"
	e := &model.LedgerEntry{UserID: 8, Amount: 100, Reason: model.ReasonOrderPoints, IdempotencyKey: &key, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO loyalty_ledger")).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "loyalty_ledger_idempotency_key_key"})
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.ErrorIs(t, r.Insert(context.Background(), tx, e), ErrDuplicateKey)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_OtherUniqueViolationPassesThrough(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO loyalty_ledger")).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "loyalty_ledger_pkey"})

	tx, err := db.Begin()
	require.NoError(t, err)
	err = r.Insert(context.Background(), tx, &model.LedgerEntry{UserID: 8, Amount: 1, Reason: model.ReasonManualAdjustment, CreatedAt: now})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicateKey)
}

func TestListForAccount_ScansNullableColumns(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	exp := now.Add(time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE user_id = \$1\s+ORDER BY created_at ASC, id ASC`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), int64(7), int64(100), "order-points", "O1", nil, nil, "order:O1", 1, int64(100), exp, now).
			AddRow(int64(2), int64(7), int64(-40), "redemption-debit", nil, "4f1c", nil, nil, 1, int64(60), nil, now))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	entries, err := r.ListForAccount(context.Background(), tx, 7)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	require.Len(t, entries, 2)
	require.Equal(t, model.ReasonOrderPoints, entries[0].Reason)
	require.Equal(t, "O1", *entries[0].OrderRef)
	require.Equal(t, exp, *entries[0].ExpiresAt)
	require.Nil(t, entries[1].OrderRef)
	require.Nil(t, entries[1].ExpiresAt)
	require.Equal(t, "4f1c", *entries[1].RedemptionID)
}

func TestFindByKey_NotFound(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE idempotency_key = \$1`).
		WithArgs("redemption:x:reversal").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = r.FindByKey(context.Background(), tx, "redemption:x:reversal")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, tx.Rollback())
}

func TestAnalytics_RejectsUnknownBucket(t *testing.T) {
	db, _ := newMock(t)
	_, err := New(db).Analytics(context.Background(), 1, model.Bucket("year"), now, now)
	require.Error(t, err)
}

func TestAnalytics_Buckets(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	from := now.Add(-48 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("date_trunc($2, created_at)")).
		WithArgs(int64(7), "day", from, now).
		WillReturnRows(sqlmock.NewRows([]string{"bucket_start", "earned", "redeemed", "expired", "adjusted", "net"}).
			AddRow(from, int64(100), int64(40), int64(0), int64(0), int64(60)).
			AddRow(now, int64(0), int64(0), int64(50), int64(0), int64(-50)))

	rows, err := r.Analytics(context.Background(), 7, model.BucketDay, from, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(100), rows[0].Earned)
	require.Equal(t, int64(50), rows[1].Expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepCandidates(t *testing.T) {
	db, mock := newMock(t)
	r := New(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM loyalty_accounts a")).
		WithArgs(now, int64(0), 50).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(3)).AddRow(int64(8)))

	ids, err := r.SweepCandidates(context.Background(), now, 0, 50)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 8}, ids)
}
