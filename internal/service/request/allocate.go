package request

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
)

// AllocationResult reports what an allocation reserved and where the request
// stands afterwards.
type AllocationResult struct {
	Reserved []domain.InventoryUnit
	Progress domain.Progress
	// Shortfall is the quantity still neither secured nor reserved.
	Shortfall int
}

// AllocateInventory reserves compatible units for whatever quantity is not
// yet secured or reserved. Partial allocation is not an error.
func (s *Service) AllocateInventory(ctx context.Context, requestID uuid.UUID) (*AllocationResult, error) {
	r, err := s.openRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	compatible, err := s.compatible(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := s.startMatching(ctx, r); err != nil {
		return nil, err
	}
	return s.allocate(ctx, r, compatible, 0, nil)
}

// allocate reserves what r still needs, capped at limit when limit > 0 and
// skipping the units in exclude.
func (s *Service) allocate(ctx context.Context, r *domain.Request, compatible compatibility.Set, limit int, exclude []uuid.UUID) (*AllocationResult, error) {
	before, err := s.Progress(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	need := r.QuantityUnits - before.Pending()
	if limit > 0 {
		need = min(need, limit)
	}
	reserved, err := s.units.Allocate(ctx, r, compatible, need, exclude...)
	if err != nil {
		return nil, err
	}

	after, err := s.Progress(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &AllocationResult{
		Reserved:  reserved,
		Progress:  after,
		Shortfall: max(0, r.QuantityUnits-after.Pending()),
	}, nil
}

// IssueUnit hands out a unit reserved for the request. Issuing the last
// missing unit fulfills the request.
func (s *Service) IssueUnit(ctx context.Context, requestID, unitID uuid.UUID) (*domain.InventoryUnit, error) {
	r, err := s.openRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	u, err := s.units.Issue(ctx, unitID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.tryFulfill(ctx, r); err != nil {
		return nil, err
	}
	return u, nil
}

// ReleaseUnit returns a unit reserved for the request to stock.
func (s *Service) ReleaseUnit(ctx context.Context, requestID, unitID uuid.UUID) (*domain.InventoryUnit, error) {
	if _, err := s.openRequest(ctx, requestID); err != nil {
		return nil, err
	}
	u, err := s.units.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.ReservedForRequestID == nil || *u.ReservedForRequestID != requestID {
		return nil, &domain.TransitionError{
			Entity:   "unit",
			ID:       unitID.String(),
			Expected: []string{"RESERVED for request " + requestID.String()},
			Actual:   u.Status.String(),
		}
	}
	return s.units.Release(ctx, unitID)
}

// OnReservationLost handles reservations ended by the inventory sweep. Each
// owning request is notified. Units lost to expiry are replaced while the
// request is open; units returned by the hold timeout are not, and are never
// re-reserved by the replacement round.
func (s *Service) OnReservationLost(ctx context.Context, lost []domain.LostReservation) error {
	byRequest := make(map[uuid.UUID][]domain.LostReservation)
	var order []uuid.UUID
	for _, l := range lost {
		if _, seen := byRequest[l.RequestID]; !seen {
			order = append(order, l.RequestID)
		}
		byRequest[l.RequestID] = append(byRequest[l.RequestID], l)
	}

	var errs []error
	for _, requestID := range order {
		var (
			expired  int
			timedOut []uuid.UUID
		)
		for _, l := range byRequest[requestID] {
			unitID := l.UnitID
			if s.notifier != nil {
				s.notifier.Notify(ctx, domain.Event{
					Type:       domain.EventReservationLost,
					RequestID:  requestID,
					UnitID:     &unitID,
					OccurredAt: s.now(),
					Attributes: map[string]string{"reason": l.Reason},
				})
			}
			if l.Reason == domain.LostReasonHoldTimeout {
				timedOut = append(timedOut, unitID)
			} else {
				expired++
			}
		}
		if expired == 0 {
			s.log.InfoContext(ctx, "reservation hold lapsed",
				slog.String("request_id", requestID.String()),
				slog.Int("released", len(timedOut)),
			)
			continue
		}

		r, err := s.openRequest(ctx, requestID)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compatible, err := s.compatible(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := s.allocate(ctx, r, compatible, expired, timedOut)
		if domain.IsClosedRequest(err) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.InfoContext(ctx, "reservations replaced",
			slog.String("request_id", requestID.String()),
			slog.Int("lost", expired),
			slog.Int("reserved", len(res.Reserved)),
			slog.Int("shortfall", res.Shortfall),
		)
	}
	return errors.Join(errs...)
}
