package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/config"
	"github.com/heartmarshall/bloodlink-backend/internal/transport/middleware"
	"github.com/heartmarshall/bloodlink-backend/internal/transport/rest"
)

// Run is the server entry point. It wires the application, serves HTTP and
// runs the background sweeper until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
		slog.String("routing", cfg.Routing.Provider),
		slog.String("notify", cfg.Notify.Kind),
	)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	svc, err := Build(ctx, cfg, logger, pool)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Error("close services", slog.String("error", err.Error()))
		}
	}()

	limiter := middleware.NewRateLimiter(time.Minute)
	defer limiter.Stop()

	checks := []rest.Check{{Name: "database", Pinger: pool}}
	if svc.Redis != nil {
		checks = append(checks, rest.Check{
			Name:     "cache",
			Pinger:   rest.PingFunc(func(ctx context.Context) error { return svc.Redis.Ping(ctx).Err() }),
			Optional: true,
		})
	}

	handler := rest.NewRouter(rest.RouterDeps{
		Log:                logger,
		CORS:               cfg.CORS,
		Health:             rest.NewHealthHandler(BuildVersion(), checks...),
		Requests:           rest.NewRequestHandler(svc.Requests, logger),
		Donors:             rest.NewDonorHandler(svc.Donors, logger),
		Inventory:          rest.NewInventoryHandler(svc.Inventory, logger),
		Metrics:            promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}),
		Limiter:            limiter,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Sweeper.Enabled {
		g.Go(func() error { return svc.Sweeper.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
