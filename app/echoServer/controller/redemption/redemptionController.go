package redemption

import (
	"log/slog"
	"net/http"

	"loyalty/app/echoServer/jwtx"
	"loyalty/app/echoServer/response"
	"loyalty/model"
	redemptionsvc "loyalty/service/redemption"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc redemptionsvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

// owned loads the redemption and checks the caller owns it or is staff.
func (h *Controller) owned(c echo.Context, id string) (*model.Redemption, error) {
	red, err := h.Svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, response.Error(c, h.Log, "get redemption", err)
	}
	p, _ := jwtx.FromContext(c)
	if !p.CanAccess(red.UserID) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}
	return red, nil
}

// Redeem godoc
// @Summary Reserve points for a reward
// @Tags redemption
// @Security BearerAuth
// @Param body body RedeemReq true "reservation"
// @Success 201 {object} response.Envelope{data=model.Redemption}
// @Failure 400,403,404,422 {object} response.Envelope
// @Router /v1/redeem [post]
func (h *Controller) Redeem(c echo.Context) error {
	var req RedeemReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := h.V.Struct(req); err != nil {
		return response.Fail(c, http.StatusBadRequest, response.KindInvalidRequest, "validation error",
			map[string]any{"errors": err.Error()})
	}
	p, _ := jwtx.FromContext(c)
	if !p.CanAccess(req.UserID) {
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}

	red, err := h.Svc.Reserve(c.Request().Context(), req.UserID, req.Points)
	if err != nil {
		return response.Error(c, h.Log, "reserve redemption", err)
	}
	return response.OK(c, http.StatusCreated, red)
}

// Get godoc
// @Summary Redemption detail
// @Tags redemption
// @Security BearerAuth
// @Param redemptionId path string true "redemption id"
// @Success 200 {object} response.Envelope{data=model.Redemption}
// @Failure 403,404 {object} response.Envelope
// @Router /v1/redemption/{redemptionId} [get]
func (h *Controller) Get(c echo.Context) error {
	red, err := h.owned(c, c.Param("redemptionId"))
	if red == nil {
		return err
	}
	return response.OK(c, http.StatusOK, red)
}

// Confirm godoc
// @Summary Issue the reward and confirm a pending redemption
// @Tags redemption
// @Security BearerAuth
// @Param redemptionId path string true "redemption id"
// @Success 200 {object} response.Envelope{data=model.Redemption}
// @Failure 404,409,503 {object} response.Envelope
// @Router /v1/redemption/{redemptionId}/confirm [post]
func (h *Controller) Confirm(c echo.Context) error {
	red, err := h.owned(c, c.Param("redemptionId"))
	if red == nil {
		return err
	}
	out, err := h.Svc.Confirm(c.Request().Context(), red.ID)
	if err != nil {
		return response.Error(c, h.Log, "confirm redemption", err)
	}
	return response.OK(c, http.StatusOK, out)
}

// Cancel godoc
// @Summary Cancel a pending redemption and give the points back
// @Tags redemption
// @Security BearerAuth
// @Param redemptionId path string true "redemption id"
// @Param body body CancelReq false "reason"
// @Success 200 {object} response.Envelope{data=model.Redemption}
// @Failure 404,409 {object} response.Envelope
// @Router /v1/redemption/{redemptionId}/cancel [post]
func (h *Controller) Cancel(c echo.Context) error {
	var req CancelReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
		}
		if err := h.V.Struct(req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "reason too long")
		}
	}
	red, err := h.owned(c, c.Param("redemptionId"))
	if red == nil {
		return err
	}
	out, err := h.Svc.Cancel(c.Request().Context(), red.ID, req.Reason)
	if err != nil {
		return response.Error(c, h.Log, "cancel redemption", err)
	}
	return response.OK(c, http.StatusOK, out)
}

// Use godoc
// @Summary Mark a confirmed redemption as used
// @Tags redemption
// @Security BearerAuth
// @Param body body UseReq true "redemption"
// @Success 200 {object} response.Envelope{data=model.Redemption}
// @Failure 400,404,409 {object} response.Envelope
// @Router /v1/redemption/use [post]
func (h *Controller) Use(c echo.Context) error {
	var req UseReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := h.V.Struct(req); err != nil {
		return response.Fail(c, http.StatusBadRequest, response.KindInvalidRequest, "validation error",
			map[string]any{"errors": err.Error()})
	}
	red, err := h.owned(c, req.RedemptionID)
	if red == nil {
		return err
	}
	out, err := h.Svc.Use(c.Request().Context(), red.ID)
	if err != nil {
		return response.Error(c, h.Log, "use redemption", err)
	}
	return response.OK(c, http.StatusOK, out)
}
