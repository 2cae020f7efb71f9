// Package proximity measures donor distances through a DistanceProvider and
// applies the travel radius policy. Lookups run concurrently with a bounded
// worker group and a per-lookup timeout; a failed lookup skips the donor.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/metrics"
	"github.com/heartmarshall/bloodlink-backend/internal/service/eligibility"
)

// DistanceProvider returns the travel distance in kilometres between two points.
type DistanceProvider interface {
	Distance(ctx context.Context, from, to domain.GeoPoint) (float64, error)
}

// SkipReason tells why a donor could not be measured.
type SkipReason string

const (
	SkipNoLocation    SkipReason = "no_location"
	SkipLocationStale SkipReason = "location_stale"
	SkipProviderError SkipReason = "provider_error"
	SkipTimeout       SkipReason = "timeout"
)

// ErrUnavailable is returned by Distance when no distance could be obtained.
var ErrUnavailable = errors.New("distance unavailable")

// Config controls lookup behaviour.
type Config struct {
	Timeout        time.Duration
	Concurrency    int
	MaxLocationAge time.Duration
}

// Measured is a candidate inside its travel radius.
type Measured struct {
	eligibility.Candidate
	DistanceKm float64
}

// Skip records a donor that could not be measured.
type Skip struct {
	DonorID uuid.UUID
	Reason  SkipReason
	Err     error
}

// Outcome is the result of evaluating a batch of candidates.
// Within keeps the input order.
type Outcome struct {
	Within     []Measured
	OutOfRange []uuid.UUID
	Skipped    []Skip
}

// Evaluator applies the proximity policy.
type Evaluator struct {
	log      *slog.Logger
	provider DistanceProvider
	metrics  *metrics.Metrics
	cfg      Config
}

func NewEvaluator(log *slog.Logger, provider DistanceProvider, m *metrics.Metrics, cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Evaluator{
		log:      log.With("service", "proximity"),
		provider: provider,
		metrics:  m,
		cfg:      cfg,
	}
}

// Within reports whether distanceKm is inside both radii. Both bounds are inclusive.
func Within(distanceKm, donorRadiusKm, searchRadiusKm float64) bool {
	return distanceKm <= min(donorRadiusKm, searchRadiusKm)
}

// Distance measures from a donor location to a request location, bounded by
// the configured timeout. A nil donor location yields ErrUnavailable.
func (e *Evaluator) Distance(ctx context.Context, from *domain.GeoPoint, to domain.GeoPoint) (float64, error) {
	if from == nil {
		return 0, fmt.Errorf("%w: donor has no location", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	km, err := e.provider.Distance(ctx, *from, to)
	outcome := "ok"
	switch {
	case err == nil && ctx.Err() != nil:
		// A provider that ignores ctx still counts as timed out.
		err = ctx.Err()
		outcome = "timeout"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	e.metrics.ObserveDistance(outcome, time.Since(start))

	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return km, nil
}

// Evaluate measures every candidate against the delivery location and keeps
// those within min(donor radius, searchRadiusKm).
func (e *Evaluator) Evaluate(ctx context.Context, candidates []eligibility.Candidate, to domain.GeoPoint, searchRadiusKm float64, now time.Time) Outcome {
	type result struct {
		km   float64
		skip SkipReason
		err  error
	}
	results := make([]result, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)

	for i := range candidates {
		d := candidates[i].Donor
		if d.Location == nil {
			results[i] = result{skip: SkipNoLocation}
			continue
		}
		if e.isStale(d, now) {
			results[i] = result{skip: SkipLocationStale}
			continue
		}

		g.Go(func() error {
			km, err := e.Distance(ctx, d.Location, to)
			if err != nil {
				reason := SkipProviderError
				if errors.Is(err, context.DeadlineExceeded) {
					reason = SkipTimeout
				}
				results[i] = result{skip: reason, err: err}
				return nil
			}
			results[i] = result{km: km}
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for i, r := range results {
		d := candidates[i].Donor
		switch {
		case r.skip != "":
			out.Skipped = append(out.Skipped, Skip{DonorID: d.ID, Reason: r.skip, Err: r.err})
			if r.err != nil {
				e.log.WarnContext(ctx, "distance lookup failed",
					slog.String("donor_id", d.ID.String()),
					slog.String("reason", string(r.skip)),
					slog.String("error", r.err.Error()),
				)
			}
		case Within(r.km, d.TravelRadiusKm, searchRadiusKm):
			out.Within = append(out.Within, Measured{Candidate: candidates[i], DistanceKm: r.km})
		default:
			out.OutOfRange = append(out.OutOfRange, d.ID)
		}
	}
	return out
}

func (e *Evaluator) isStale(d *domain.Donor, now time.Time) bool {
	if e.cfg.MaxLocationAge <= 0 || d.LocationUpdatedAt == nil {
		return false
	}
	return now.Sub(*d.LocationUpdatedAt) > e.cfg.MaxLocationAge
}
