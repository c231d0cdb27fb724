package errs_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"loyalty/util/errs"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := errs.New(errs.NotFound, "account not found", errs.Details{"user_id": int64(7)})
	require.Equal(t, errs.NotFound, errs.KindOf(err))
	require.Equal(t, errs.NotFound, errs.KindOf(fmt.Errorf("outer: %w", err)))
	require.Equal(t, errs.Kind(""), errs.KindOf(errors.New("plain")))
	require.True(t, errs.Is(err, errs.NotFound))
	require.False(t, errs.Is(nil, errs.NotFound))
}

func TestStorage_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{"bad conn", driver.ErrBadConn, errs.StorageUnavailable},
		{"deadline", context.DeadlineExceeded, errs.StorageUnavailable},
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, errs.StorageUnavailable},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, errs.StorageUnavailable},
		{"connection", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, errs.StorageUnavailable},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, errs.Internal},
		{"canceled", context.Canceled, errs.Internal},
		{"plain", errors.New("boom"), errs.Internal},
		{"kinded", errs.New(errs.InvalidState, "x", nil), errs.InvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, errs.KindOf(errs.Storage(tc.err, "op")))
		})
	}
	require.NoError(t, errs.Storage(nil, "op"))
}

func TestError_KeepsCauseForLogs(t *testing.T) {
	cause := errors.New("pq: relation missing")
	err := errs.Storage(cause, "insert ledger")
	require.ErrorIs(t, err, cause)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "storage failure", e.Message)
	require.Equal(t, "insert ledger", e.Details["op"])
}
