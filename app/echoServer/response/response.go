// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"errors"
	"log/slog"
	"net/http"

	"loyalty/util/errs"

	"github.com/labstack/echo/v4"
)

// Request-level kinds that never leave the services.
const (
	KindInvalidRequest = "InvalidRequest"
	KindUnauthorized   = "Unauthorized"
	KindForbidden      = "Forbidden"
	KindRateLimited    = "RateLimited"
	KindRouteNotFound  = "RouteNotFound"
)

type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func OK(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

func Fail(c echo.Context, status int, kind, msg string, details map[string]any) error {
	return c.JSON(status, Envelope{Error: &ErrorBody{Kind: kind, Message: msg, Details: details}})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(k errs.Kind) int {
	switch k {
	case errs.InvalidAmount, errs.ConfigInvalid:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidState:
		return http.StatusConflict
	case errs.InsufficientBalance:
		return http.StatusUnprocessableEntity
	case errs.StorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes a service error. Internal failures are logged with their
// cause and answered with a generic message.
func Error(c echo.Context, log *slog.Logger, op string, err error) error {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind == errs.Internal {
		log.Error(op+" failed", "err", err, "req_id", c.Response().Header().Get(echo.HeaderXRequestID))
		return Fail(c, http.StatusInternalServerError, string(errs.Internal), "internal error", nil)
	}
	status := StatusOf(e.Kind)
	if status >= 500 {
		log.Warn(op+" unavailable", "err", err)
	}
	return Fail(c, status, string(e.Kind), e.Message, e.Details)
}

// HTTPErrorHandler renders errors raised by echo and its middlewares in the envelope.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if _, ok := err.(*errs.Error); ok {
			_ = Error(c, log, c.Path(), err)
			return
		}

		code := http.StatusInternalServerError
		msg := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}

		kind := string(errs.Internal)
		switch code {
		case http.StatusBadRequest:
			kind = KindInvalidRequest
		case http.StatusUnauthorized:
			kind = KindUnauthorized
		case http.StatusForbidden:
			kind = KindForbidden
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			kind = KindRouteNotFound
		case http.StatusTooManyRequests:
			kind = KindRateLimited
		}
		if code >= 500 {
			log.Error("request failed", "err", err, "path", c.Path())
			msg = "internal error"
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = Fail(c, code, kind, msg, nil)
	}
}
