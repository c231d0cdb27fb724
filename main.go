// Package main loyalty points API.
//
// @title           Loyalty Points API
// @version         1.0
// @description     Points ledger, account views, redemptions and expiry sweeps for the storefront.
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description  Use:  Bearer <JWT>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"loyalty/config"
	"loyalty/util/clock"
	"loyalty/util/database"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfg config.App
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "loyalty",
	Short:         "Loyalty points ledger service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
		slog.SetDefault(log)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.New(cmd.Context(), cfg.DatabaseURL, database.Options{MaxConns: 2})
		if err != nil {
			return err
		}
		defer db.Close()

		v, err := database.Migrate(db.SQL)
		if err != nil {
			return err
		}
		log.Info("migrations applied", "version", v)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire aged points and auto-cancel stale redemptions once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := database.New(ctx, cfg.DatabaseURL, dbOptions())
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := build(cfg, db, log, clock.System())
		if err != nil {
			return err
		}
		res, err := a.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		cancelled, err := a.redemptions.CancelExpired(ctx)
		if err != nil {
			return err
		}
		log.Info("sweep finished",
			"accounts", res.Accounts, "entries", res.Entries, "points", res.Points, "failed", res.Failed,
			"redemptions_cancelled", cancelled)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func dbOptions() database.Options {
	return database.Options{MaxConns: cfg.DBMaxConns, MaxConnLifetime: cfg.DBMaxConnLife}
}

func runServe(ctx context.Context) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve")
	}
	db, err := database.New(ctx, cfg.DatabaseURL, dbOptions())
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	if cfg.MigrateOnServe {
		v, err := database.Migrate(db.SQL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema ready", "version", v)
	}

	a, err := build(cfg, db, log, clock.System())
	if err != nil {
		return err
	}
	e := a.echo()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.SchedulerEnabled {
		sched, err := a.scheduler()
		if err != nil {
			return err
		}
		sched.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			sched.Stop()
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return e.Shutdown(sctx)
	})
	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("loyalty exited", "err", err)
		stop()
		os.Exit(1)
	}
}
