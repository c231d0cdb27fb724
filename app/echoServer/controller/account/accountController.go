package account

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"loyalty/app/echoServer/jwtx"
	"loyalty/app/echoServer/response"
	"loyalty/model"
	accountsvc "loyalty/service/account"
	ledgersvc "loyalty/service/ledger"

	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc    accountsvc.Service
	Ledger ledgersvc.Service
	Log    *slog.Logger
}

// ownUser parses :userId and checks the caller may act on it.
func ownUser(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	p, _ := jwtx.FromContext(c)
	if !p.CanAccess(id) {
		return 0, echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}
	return id, nil
}

// Initialize godoc
// @Summary Create a loyalty account (idempotent)
// @Tags account
// @Security BearerAuth
// @Param userId path int true "user id"
// @Success 200 {object} response.Envelope{data=model.Status}
// @Failure 400,401,403 {object} response.Envelope
// @Router /v1/account/initialize/{userId} [post]
func (h *Controller) Initialize(c echo.Context) error {
	id, err := ownUser(c)
	if err != nil {
		return err
	}
	st, err := h.Svc.Initialize(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, h.Log, "initialize account", err)
	}
	return response.OK(c, http.StatusOK, st)
}

// Retire godoc
// @Summary Retire an account (admin)
// @Tags account
// @Security BearerAuth
// @Param userId path int true "user id"
// @Success 200 {object} response.Envelope{data=model.Status}
// @Failure 404 {object} response.Envelope
// @Router /v1/account/{userId}/retire [post]
func (h *Controller) Retire(c echo.Context) error {
	id, err := ownUser(c)
	if err != nil {
		return err
	}
	st, err := h.Svc.Retire(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, h.Log, "retire account", err)
	}
	return response.OK(c, http.StatusOK, st)
}

// Status godoc
// @Summary Balance, lifetime totals and tier
// @Tags account
// @Security BearerAuth
// @Param userId path int true "user id"
// @Success 200 {object} response.Envelope{data=model.Status}
// @Failure 404 {object} response.Envelope
// @Router /v1/status/{userId} [get]
func (h *Controller) Status(c echo.Context) error {
	id, err := ownUser(c)
	if err != nil {
		return err
	}
	st, err := h.Svc.Status(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, h.Log, "account status", err)
	}
	return response.OK(c, http.StatusOK, st)
}

// Analytics godoc
// @Summary Earn/redeem history in time buckets
// @Tags account
// @Security BearerAuth
// @Param userId path int true "user id"
// @Param bucket query string false "day, week or month"
// @Param from query string false "RFC3339 or YYYY-MM-DD"
// @Param to query string false "RFC3339 or YYYY-MM-DD"
// @Success 200 {object} response.Envelope{data=[]model.AnalyticsRow}
// @Router /v1/analytics/{userId} [get]
func (h *Controller) Analytics(c echo.Context) error {
	id, err := ownUser(c)
	if err != nil {
		return err
	}
	from, ok := parseTime(c.QueryParam("from"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	to, ok := parseTime(c.QueryParam("to"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	rows, err := h.Svc.Analytics(c.Request().Context(), id, model.Bucket(c.QueryParam("bucket")), from, to)
	if err != nil {
		return response.Error(c, h.Log, "account analytics", err)
	}
	return response.OK(c, http.StatusOK, rows)
}

func parseTime(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, true
		}
	}
	return nil, false
}

// LedgerHistory godoc
// @Summary Newest ledger entries of an account
// @Tags account
// @Security BearerAuth
// @Param userId path int true "user id"
// @Param limit query int false "max entries (default 50, max 500)"
// @Success 200 {object} response.Envelope{data=[]model.LedgerEntry}
// @Router /v1/ledger/{userId} [get]
func (h *Controller) LedgerHistory(c echo.Context) error {
	id, err := ownUser(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := h.Ledger.History(c.Request().Context(), id, limit)
	if err != nil {
		return response.Error(c, h.Log, "ledger history", err)
	}
	return response.OK(c, http.StatusOK, rows)
}

// Leaderboard godoc
// @Summary Accounts ranked by balance
// @Tags account
// @Security BearerAuth
// @Param limit query int false "rows (default 10, max 100)"
// @Success 200 {object} response.Envelope{data=[]model.LeaderboardRow}
// @Router /v1/leaderboard [get]
func (h *Controller) Leaderboard(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := h.Svc.Leaderboard(c.Request().Context(), limit)
	if err != nil {
		return response.Error(c, h.Log, "leaderboard", err)
	}
	return response.OK(c, http.StatusOK, rows)
}
