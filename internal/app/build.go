package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/cache"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/notify"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	pgdonor "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/donor"
	pgmatch "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/match"
	pgreference "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/reference"
	pgrequest "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/request"
	pgunit "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/unit"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/provider/routing"
	"github.com/heartmarshall/bloodlink-backend/internal/config"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/metrics"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/donor"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
	"github.com/heartmarshall/bloodlink-backend/internal/service/request"
	"github.com/heartmarshall/bloodlink-backend/internal/service/sweeper"
)

type eventNotifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Services is the wired application layer shared by the server and the
// one-shot commands.
type Services struct {
	Requests  *request.Service
	Donors    *donor.Service
	Inventory *inventory.Service
	Matching  *matching.Service
	Sweeper   *sweeper.Sweeper

	Registry *prometheus.Registry
	// Redis is nil when no cache is configured.
	Redis *redis.Client

	closers []func(context.Context) error
}

// Build wires repositories, adapters and services on top of pool.
// Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool) (*Services, error) {
	s := &Services{Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.Registry)

	rdb, err := cache.NewClient(ctx, cache.ClientOptions{
		URL:         cfg.Redis.URL,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if rdb != nil {
		s.Redis = rdb
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
	}

	distances := newDistanceProvider(logger, cfg.Routing)
	if rdb != nil {
		distances = cache.NewDistances(logger, rdb, distances, cfg.Redis.DistanceTTL)
	}

	notifier, err := s.newNotifier(logger, cfg.Notify)
	if err != nil {
		s.Close(ctx) //nolint:errcheck
		return nil, err
	}

	tx := postgres.NewTxManager(pool)
	refRepo := pgreference.New(pool)
	donorRepo := pgdonor.New(pool)
	matchRepo := pgmatch.New(pool)
	unitRepo := pgunit.New(pool)
	requestRepo := pgrequest.New(pool)

	prox := proximity.NewEvaluator(logger, distances, m, proximity.Config{
		Timeout:        cfg.Matching.DistanceTimeout,
		Concurrency:    cfg.Matching.LookupConcurrency,
		MaxLocationAge: cfg.Matching.MaxLocationAge,
	})
	s.Matching = matching.NewService(logger, matchRepo, donorRepo, prox, notifier, m, matching.Config{
		DefaultRadiusKm: cfg.Matching.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Matching.MaxRadiusKm,
		MatchHold:       cfg.Matching.MatchHold,
		MaxCandidates:   cfg.Matching.MaxCandidates,
		PoolLimit:       cfg.Matching.PoolLimit,
		PriorityOrder:   cfg.Matching.PriorityOrder,
	})
	s.Inventory = inventory.NewService(logger, unitRepo, refRepo, m, inventory.Config{
		ReservationHold: cfg.Inventory.ReservationHold,
		CandidateLimit:  cfg.Inventory.CandidateLimit,
		AllocateRounds:  cfg.Inventory.AllocateRounds,
	})
	s.Requests = request.NewService(logger, request.Deps{
		Requests: requestRepo,
		Ref:      refRepo,
		Rules:    compatibility.NewService(logger, refRepo, cfg.Matching.PriorityOrder),
		Matches:  s.Matching,
		Units:    s.Inventory,
		Tx:       tx,
		Notifier: notifier,
		Metrics:  m,
	}, request.Config{
		MaxQuantity: cfg.Request.MaxQuantity,
		SweepBatch:  cfg.Request.SweepBatch,
	})
	s.Donors = donor.NewService(logger, donorRepo, refRepo, s.Inventory, tx, donor.Config{
		DefaultRadiusKm: cfg.Matching.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Matching.MaxRadiusKm,
	})
	s.Sweeper = sweeper.New(logger, s.Matching, s.Inventory, s.Requests, cfg.Sweeper.Interval)

	return s, nil
}

// Close releases the cache and event producer connections.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (s *Services) newNotifier(logger *slog.Logger, cfg config.NotifyConfig) (eventNotifier, error) {
	if cfg.Kind != "kafka" {
		return notify.NewLogNotifier(logger), nil
	}
	k, err := notify.NewKafkaNotifier(logger, notify.KafkaOptions{
		Brokers:  cfg.Brokers(),
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID,
		Linger:   cfg.Linger,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka notifier: %w", err)
	}
	s.closers = append(s.closers, k.Close)
	return k, nil
}

func newDistanceProvider(logger *slog.Logger, cfg config.RoutingConfig) proximity.DistanceProvider {
	if cfg.Provider != "osrm" {
		return routing.Haversine{}
	}
	return routing.NewProvider(logger, routing.Options{
		BaseURL:           cfg.BaseURL,
		Profile:           cfg.Profile,
		Timeout:           cfg.Timeout,
		FailureThreshold:  cfg.FailureThreshold,
		SuccessThreshold:  cfg.SuccessThreshold,
		Cooldown:          cfg.Cooldown,
		FallbackHaversine: cfg.FallbackHaversine,
	})
}
