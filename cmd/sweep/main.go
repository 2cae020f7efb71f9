// Command sweep runs every maintenance pass once: stale match expiry,
// inventory expiry, overdue request expiry and the SLA scan. It is intended
// for deployments that disable the in-process sweeper and schedule this
// binary from an external cron job instead.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/app"
	"github.com/heartmarshall/bloodlink-backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	svc, err := app.Build(ctx, cfg, logger, pool)
	if err != nil {
		logger.Error("build services", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer svc.Close(ctx) //nolint:errcheck

	rep, err := svc.Sweeper.RunOnce(ctx)
	logger.Info("sweep completed",
		slog.Int("expired_matches", rep.ExpiredMatches),
		slog.Int("expired_units", rep.ExpiredUnits),
		slog.Int("lost_reservations", rep.LostReservations),
		slog.Int("expired_requests", rep.ExpiredRequests),
		slog.Int("sla_warnings", rep.SLAWarnings),
		slog.Int("sla_breaches", rep.SLABreaches),
	)
	if err != nil {
		logger.Error("sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
