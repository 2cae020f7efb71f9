package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
)

// FindCandidateUnits returns allocatable units for req, soonest expiry first.
// An empty compatible set yields no units.
func (s *Service) FindCandidateUnits(ctx context.Context, req *domain.Request, compatible compatibility.Set, limit int) ([]domain.InventoryUnit, error) {
	if len(compatible) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > s.cfg.CandidateLimit {
		limit = s.cfg.CandidateLimit
	}
	units, err := s.units.FindCandidates(ctx, domain.UnitQuery{
		BloodTypeIDs: compatible.BloodTypeIDs(),
		ComponentID:  req.ComponentID,
		Now:          s.now(),
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find candidate units: %w", err)
	}
	return units, nil
}

// Reserve moves an AVAILABLE unit to RESERVED for requestID. A lost race or
// an expired unit yields ErrConflict.
func (s *Service) Reserve(ctx context.Context, unitID, requestID uuid.UUID) (*domain.InventoryUnit, error) {
	u, err := s.units.Reserve(ctx, unitID, requestID, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("reserve unit: %w", err)
	}
	return u, nil
}

// Release returns a RESERVED unit to AVAILABLE.
func (s *Service) Release(ctx context.Context, unitID uuid.UUID) (*domain.InventoryUnit, error) {
	u, err := s.units.Release(ctx, unitID, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("release unit: %w", err)
	}
	s.log.InfoContext(ctx, "unit released", slog.String("unit_id", unitID.String()))
	return u, nil
}

// Issue hands a unit reserved for requestID out to the requester.
func (s *Service) Issue(ctx context.Context, unitID, requestID uuid.UUID) (*domain.InventoryUnit, error) {
	u, err := s.units.Issue(ctx, unitID, requestID, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("issue unit: %w", err)
	}
	s.log.InfoContext(ctx, "unit issued",
		slog.String("unit_id", unitID.String()),
		slog.String("request_id", requestID.String()),
	)
	return u, nil
}

// Allocate reserves up to need units for req, never one of exclude.
// Candidates lost to a concurrent caller are skipped and the pool is
// refetched, at most AllocateRounds times. Fewer than need units is not an
// error; a request closed meanwhile stops the allocation with its error.
func (s *Service) Allocate(ctx context.Context, req *domain.Request, compatible compatibility.Set, need int, exclude ...uuid.UUID) ([]domain.InventoryUnit, error) {
	if need <= 0 {
		return nil, nil
	}

	var reserved []domain.InventoryUnit
	for round := 0; round < s.cfg.AllocateRounds && len(reserved) < need; round++ {
		candidates, err := s.FindCandidateUnits(ctx, req, compatible, 0)
		if err != nil {
			return reserved, err
		}
		if len(candidates) == 0 {
			break
		}

		lost := 0
		for _, c := range candidates {
			if len(reserved) == need {
				break
			}
			if slices.Contains(exclude, c.ID) {
				continue
			}
			u, err := s.Reserve(ctx, c.ID, req.ID)
			if domain.IsClosedRequest(err) {
				return reserved, err
			}
			if errors.Is(err, domain.ErrConflict) {
				lost++
				continue
			}
			if err != nil {
				return reserved, err
			}
			reserved = append(reserved, *u)
		}
		if lost == 0 {
			break
		}
	}

	s.log.InfoContext(ctx, "inventory allocated",
		slog.String("request_id", req.ID.String()),
		slog.Int("need", need),
		slog.Int("reserved", len(reserved)),
	)
	return reserved, nil
}

// ReleaseForRequest releases every unit still reserved for a request.
func (s *Service) ReleaseForRequest(ctx context.Context, requestID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	ids, err := s.units.ReleaseForRequest(ctx, requestID, now)
	if err != nil {
		return nil, fmt.Errorf("release request units: %w", err)
	}
	return ids, nil
}

// SweepResult summarizes one inventory sweep.
type SweepResult struct {
	Expired int
	Lost    []domain.LostReservation
}

// SweepExpired expires units past their shelf life and, when a reservation
// hold is configured, returns long-held reservations to stock. Every lost
// reservation is reported with its reason; only expired units call for a
// replacement.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	n, lost, err := s.units.ExpireDue(ctx, now)
	if err != nil {
		return res, fmt.Errorf("expire units: %w", err)
	}
	res.Expired = n
	res.Lost = lost
	s.metrics.AddSwept("units_expired", n)

	if s.cfg.ReservationHold > 0 {
		released, err := s.units.ReleaseStale(ctx, now.Add(-s.cfg.ReservationHold), now)
		if err != nil {
			return res, fmt.Errorf("release stale reservations: %w", err)
		}
		res.Lost = append(res.Lost, released...)
		s.metrics.AddSwept("reservations_released", len(released))
	}

	if res.Expired > 0 || len(res.Lost) > 0 {
		s.log.InfoContext(ctx, "inventory swept",
			slog.Int("expired", res.Expired),
			slog.Int("lost_reservations", len(res.Lost)),
		)
	}
	return res, nil
}

func (s *Service) countConflict(err error) {
	if errors.Is(err, domain.ErrConflict) {
		s.metrics.IncConflict("unit")
	}
}
