// Package sweeper runs the periodic maintenance passes: stale match expiry,
// inventory expiry, overdue request expiry and the SLA scan.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
	"github.com/heartmarshall/bloodlink-backend/internal/service/request"
)

type matchExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) ([]domain.Match, error)
}

type inventorySweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (inventory.SweepResult, error)
}

type requestSweeper interface {
	OnReservationLost(ctx context.Context, lost []domain.LostReservation) error
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	ScanSLA(ctx context.Context, now time.Time) (request.ScanResult, error)
}

// Report summarizes one pass.
type Report struct {
	ExpiredMatches   int
	ExpiredUnits     int
	LostReservations int
	ExpiredRequests  int
	SLAWarnings      int
	SLABreaches      int
}

// Sweeper runs all maintenance passes against the same store.
type Sweeper struct {
	matches  matchExpirer
	units    inventorySweeper
	requests requestSweeper
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Sweeper. A non-positive interval defaults to one minute.
func New(log *slog.Logger, matches matchExpirer, units inventorySweeper, requests requestSweeper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		matches:  matches,
		units:    units,
		requests: requests,
		interval: interval,
		log:      log.With("service", "sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes every pass once at the current time. A failing pass does
// not stop the following ones; all errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	return s.RunAt(ctx, s.now())
}

// RunAt executes every pass once as of now.
func (s *Sweeper) RunAt(ctx context.Context, now time.Time) (Report, error) {
	var (
		rep  Report
		errs []error
	)

	expired, err := s.matches.ExpireStale(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire stale matches: %w", err))
	}
	rep.ExpiredMatches = len(expired)

	swept, err := s.units.SweepExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep inventory: %w", err))
	}
	rep.ExpiredUnits = swept.Expired
	rep.LostReservations = len(swept.Lost)
	if len(swept.Lost) > 0 {
		if err := s.requests.OnReservationLost(ctx, swept.Lost); err != nil {
			errs = append(errs, fmt.Errorf("route lost reservations: %w", err))
		}
	}

	n, err := s.requests.ExpireOverdue(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire overdue requests: %w", err))
	}
	rep.ExpiredRequests = n

	sla, err := s.requests.ScanSLA(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("scan sla: %w", err))
	}
	rep.SLAWarnings = sla.Warned
	rep.SLABreaches = sla.Breached

	return rep, errors.Join(errs...)
}

// Run sweeps on every tick until ctx is cancelled. Pass failures are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
			rep, err := s.RunOnce(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
			if rep != (Report{}) {
				s.log.InfoContext(ctx, "sweep completed",
					slog.Int("expired_matches", rep.ExpiredMatches),
					slog.Int("expired_units", rep.ExpiredUnits),
					slog.Int("lost_reservations", rep.LostReservations),
					slog.Int("expired_requests", rep.ExpiredRequests),
					slog.Int("sla_warnings", rep.SLAWarnings),
					slog.Int("sla_breaches", rep.SLABreaches),
				)
			}
		}
	}
}
