// Package errs defines the error kinds surfaced by the loyalty services.
//
// Every failure that leaves a service carries a Kind and the identifiers it
// concerns. Raw storage errors stay wrapped inside and are only logged.
package errs

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	InsufficientBalance Kind = "InsufficientBalance"
	InvalidAmount       Kind = "InvalidAmount"
	InvalidState        Kind = "InvalidState"
	NotFound            Kind = "NotFound"
	StorageUnavailable  Kind = "StorageUnavailable"
	ConfigInvalid       Kind = "ConfigInvalid"
	Internal            Kind = "Internal"
)

// Details carries the offending identifiers of a failure.
type Details map[string]any

type Error struct {
	Kind    Kind
	Message string
	Details Details
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a kinded error.
func New(kind Kind, msg string, details Details) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// Wrap builds a kinded error keeping cause for logs.
func Wrap(kind Kind, cause error, msg string, details Details) *Error {
	return &Error{Kind: kind, Message: msg, Details: details, cause: cause}
}

// KindOf extracts the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// Storage classifies an error returned by the database layer. Errors that
// already carry a kind pass through unchanged.
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	if IsTransient(err) {
		return Wrap(StorageUnavailable, err, "storage temporarily unavailable", Details{"op": op})
	}
	return Wrap(Internal, err, "storage failure", Details{"op": op})
}

// IsTransient reports whether err is a storage failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.LockNotAvailable,
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
