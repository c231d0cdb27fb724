package main

import (
	"context"
	"log/slog"
	"net/http"

	"loyalty/app/echoServer"
	"loyalty/app/echoServer/controller/account"
	"loyalty/app/echoServer/controller/admin"
	"loyalty/app/echoServer/controller/points"
	"loyalty/app/echoServer/controller/redemption"
	"loyalty/app/echoServer/validation"
	"loyalty/config"
	accountrepo "loyalty/repository/account"
	issuerrepo "loyalty/repository/issuer"
	ledgerrepo "loyalty/repository/ledger"
	policyrepo "loyalty/repository/policy"
	redemptionrepo "loyalty/repository/redemption"
	accountsvc "loyalty/service/account"
	expirysvc "loyalty/service/expiry"
	ledgersvc "loyalty/service/ledger"
	policysvc "loyalty/service/policy"
	redemptionsvc "loyalty/service/redemption"
	"loyalty/service/scheduler"
	"loyalty/util/clock"
	"loyalty/util/database"
	"loyalty/util/metrics"
	"loyalty/util/retry"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
)

type app struct {
	cfg config.App
	log *slog.Logger

	policy      policysvc.Service
	ledger      ledgersvc.Service
	accounts    accountsvc.Service
	redemptions redemptionsvc.Service
	sweeper     expirysvc.Sweeper
}

func build(cfg config.App, db *database.DB, log *slog.Logger, clk clock.Clock) (*app, error) {
	def, err := cfg.DefaultPolicy()
	if err != nil {
		return nil, err
	}
	rx := retry.New(cfg.Retry())

	accRepo := accountrepo.New(db.SQL)
	ledRepo := ledgerrepo.New(db.SQL)
	redRepo := redemptionrepo.New(db.SQL)

	var issuer issuerrepo.Repo
	if cfg.IssuerURL != "" {
		issuer = issuerrepo.NewHTTP(cfg.IssuerURL, cfg.IssuerAPIKey, cfg.IssuerTimeout, cfg.Retry())
	} else {
		log.Warn("ISSUER_URL not set, reward codes are generated locally")
		issuer = issuerrepo.NewLocal()
	}

	a := &app{cfg: cfg, log: log}
	a.policy = policysvc.New(policyrepo.New(db.SQL), def, clk)
	a.ledger = ledgersvc.New(db.SQL, accRepo, ledRepo, a.policy, clk, rx)
	a.accounts = accountsvc.New(db.SQL, accRepo, ledRepo, a.policy, clk, rx)
	a.redemptions = redemptionsvc.New(db.SQL, redRepo, a.ledger, issuer, a.policy, clk, rx, log.With("component", "redemption"))
	a.sweeper = expirysvc.New(db.SQL, accRepo, ledRepo, a.ledger, a.policy, clk, rx, log.With("component", "expiry"))
	return a, nil
}

func (a *app) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	echoServer.RegisterMiddlewares(e, a.log, a.cfg.RateLimitRPS)
	v := validation.New()
	e.Validator = v

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Account:    &account.Controller{Svc: a.accounts, Ledger: a.ledger, Log: a.log},
		Points:     &points.Controller{Ledger: a.ledger, V: v.Engine(), Log: a.log},
		Redemption: &redemption.Controller{Svc: a.redemptions, V: v.Engine(), Log: a.log},
		Admin:      &admin.Controller{Policy: a.policy, Sweeper: a.sweeper, V: v.Engine(), Log: a.log},
		JWTSecret:  a.cfg.JWTSecret,
	})
	return e
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.log,
		scheduler.Job{
			Name: "sweep",
			Spec: a.cfg.SweepSchedule,
			Run: func(ctx context.Context) error {
				res, err := a.sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				a.log.Info("expiry sweep", "accounts", res.Accounts, "entries", res.Entries, "points", res.Points, "failed", res.Failed)
				return nil
			},
		},
		scheduler.Job{
			Name: "auto-cancel",
			Spec: a.cfg.AutoCancelSchedule,
			Run: func(ctx context.Context) error {
				n, err := a.redemptions.CancelExpired(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					a.log.Info("auto-cancelled redemptions", "count", n)
				}
				return nil
			},
		},
	)
}
