package admin

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"loyalty/app/echoServer/jwtx"
	"loyalty/app/echoServer/response"
	"loyalty/model"
	expirysvc "loyalty/service/expiry"
	policysvc "loyalty/service/policy"
	"loyalty/util/errs"
	"loyalty/util/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Policy  policysvc.Service
	Sweeper expirysvc.Sweeper
	V       *validator.Validate
	Log     *slog.Logger
}

// GetConfig godoc
// @Summary Policy in force
// @Tags admin
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=model.Policy}
// @Router /v1/config [get]
func (h *Controller) GetConfig(c echo.Context) error {
	p, err := h.Policy.Current(c.Request().Context())
	if err != nil {
		return response.Error(c, h.Log, "get policy", err)
	}
	return response.OK(c, http.StatusOK, p)
}

// SetConfig godoc
// @Summary Store a new policy version (expiry window, earn rate, redemption timeout, tiers)
// @Tags admin
// @Security BearerAuth
// @Param body body model.PolicyInput true "policy"
// @Success 201 {object} response.Envelope{data=model.Policy}
// @Failure 400 {object} response.Envelope
// @Router /v1/config [post]
func (h *Controller) SetConfig(c echo.Context) error {
	var in model.PolicyInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := h.V.Struct(in); err != nil {
		return response.Fail(c, http.StatusBadRequest, string(errs.ConfigInvalid), "validation error",
			map[string]any{"errors": err.Error()})
	}
	actor, _ := jwtx.FromContext(c)
	p, err := h.Policy.Set(c.Request().Context(), in, fmt.Sprintf("%s:%d", actor.Role, actor.UserID))
	if err != nil {
		return response.Error(c, h.Log, "set policy", err)
	}
	h.Log.Info("policy updated", "version", p.Version, "by", p.CreatedBy)
	return response.OK(c, http.StatusCreated, p)
}

// ExpirePoints godoc
// @Summary Run the expiry sweeper now
// @Tags admin
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=expiry.Result}
// @Router /v1/expire-points [post]
func (h *Controller) ExpirePoints(c echo.Context) error {
	start := time.Now()
	res, err := h.Sweeper.Sweep(c.Request().Context())
	metrics.RecordJob("sweep-manual", err == nil, time.Since(start))
	if err != nil {
		return response.Error(c, h.Log, "expire points", err)
	}
	h.Log.Info("manual sweep", "accounts", res.Accounts, "entries", res.Entries, "points", res.Points, "failed", res.Failed)
	return response.OK(c, http.StatusOK, res)
}
