package echoServer

import (
	"loyalty/app/echoServer/controller/account"
	"loyalty/app/echoServer/controller/admin"
	"loyalty/app/echoServer/controller/points"
	"loyalty/app/echoServer/controller/redemption"

	"github.com/labstack/echo/v4"
)

type C struct {
	Account    *account.Controller
	Points     *points.Controller
	Redemption *redemption.Controller
	Admin      *admin.Controller
	JWTSecret  string
}

func Register(e *echo.Echo, c C) {
	v1 := e.Group("/v1", Auth(c.JWTSecret)...)
	staff := RequireStaff()
	adminOnly := RequireAdmin()

	// Accounts
	v1.POST("/account/initialize/:userId", c.Account.Initialize)
	v1.POST("/account/:userId/retire", c.Account.Retire, adminOnly)
	v1.GET("/status/:userId", c.Account.Status)
	v1.GET("/analytics/:userId", c.Account.Analytics)
	v1.GET("/ledger/:userId", c.Account.LedgerHistory)
	v1.GET("/leaderboard", c.Account.Leaderboard)

	// Points
	v1.POST("/points/add", c.Points.Add, staff)

	// Redemptions
	v1.POST("/redeem", c.Redemption.Redeem)
	v1.POST("/redemption/use", c.Redemption.Use)
	v1.GET("/redemption/:redemptionId", c.Redemption.Get)
	v1.POST("/redemption/:redemptionId/confirm", c.Redemption.Confirm)
	v1.POST("/redemption/:redemptionId/cancel", c.Redemption.Cancel)

	// Admin
	v1.GET("/config", c.Admin.GetConfig, adminOnly)
	v1.POST("/config", c.Admin.SetConfig, adminOnly)
	v1.POST("/expire-points", c.Admin.ExpirePoints, adminOnly)
}
