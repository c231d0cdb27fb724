package points

import (
	"log/slog"
	"net/http"

	"loyalty/app/echoServer/response"
	"loyalty/model"
	ledgersvc "loyalty/service/ledger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Ledger ledgersvc.Service
	V      *validator.Validate
	Log    *slog.Logger
}

// Add godoc
// @Summary Credit order points or post a manual adjustment (staff)
// @Description points wins when positive; otherwise floor(order_total x earn_rate). A replayed order_ref credits once.
// @Tags points
// @Security BearerAuth
// @Param body body AddPointsReq true "posting"
// @Success 201 {object} response.Envelope{data=model.LedgerEntry}
// @Failure 400,404,409,422 {object} response.Envelope
// @Router /v1/points/add [post]
func (h *Controller) Add(c echo.Context) error {
	var req AddPointsReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := h.V.Struct(req); err != nil {
		return response.Fail(c, http.StatusBadRequest, response.KindInvalidRequest, "validation error",
			map[string]any{"errors": err.Error()})
	}

	ctx := c.Request().Context()
	var (
		e   *model.LedgerEntry
		err error
	)
	switch model.Reason(req.Reason) {
	case model.ReasonManualAdjustment:
		p := model.Posting{UserID: req.UserID, Amount: req.Points, Reason: model.ReasonManualAdjustment}
		if req.OrderRef != "" {
			key := "adjustment:" + req.OrderRef
			p.OrderRef = &req.OrderRef
			p.IdempotencyKey = &key
		}
		e, err = h.Ledger.PostEntry(ctx, p)
	default:
		e, err = h.Ledger.Earn(ctx, req.UserID, req.OrderRef, req.Points, req.OrderTotal)
	}
	if err != nil {
		return response.Error(c, h.Log, "add points", err)
	}
	return response.OK(c, http.StatusCreated, e)
}
