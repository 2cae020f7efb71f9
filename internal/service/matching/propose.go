package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/eligibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
)

// ProposeInput identifies the donor to propose against a request.
type ProposeInput struct {
	DonorID  uuid.UUID
	RadiusKm float64
}

// Validate checks all fields and collects all errors.
func (i ProposeInput) Validate() error {
	var errs []domain.FieldError
	if i.DonorID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "donor_id", Message: "required"})
	}
	if i.RadiusKm < 0 {
		errs = append(errs, domain.FieldError{Field: "radius_km", Message: "must be positive"})
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// Propose creates a PROPOSED match for a donor that passes eligibility and
// proximity. A donor already matched to the request in any status other than
// EXPIRED, or holding an open match elsewhere, yields ErrConflict.
func (s *Service) Propose(ctx context.Context, req *domain.Request, compatible compatibility.Set, input ProposeInput) (*domain.Match, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	radius, err := s.radius(input.RadiusKm)
	if err != nil {
		return nil, err
	}

	donor, err := s.donors.GetByID(ctx, input.DonorID)
	if err != nil {
		return nil, fmt.Errorf("get donor: %w", err)
	}

	existing, err := s.matches.ListByPair(ctx, req.ID, donor.ID)
	if err != nil {
		return nil, fmt.Errorf("list pair matches: %w", err)
	}
	for _, m := range existing {
		if m.Status != domain.MatchStatusExpired {
			s.metrics.IncConflict("match")
			return nil, fmt.Errorf("donor %s already %s for request %s: %w",
				donor.ID, m.Status, req.ID, domain.ErrConflict)
		}
	}

	open, err := s.matches.OpenByDonors(ctx, []uuid.UUID{donor.ID})
	if err != nil {
		return nil, fmt.Errorf("load open matches: %w", err)
	}

	now := s.now()
	check := eligibility.Check(eligibility.Input{
		Request:    req,
		Compatible: compatible,
		Now:        now,
		Engaged:    map[uuid.UUID]bool{donor.ID: len(open) > 0},
	}, donor)
	if !check.Eligible {
		if check.Reason == eligibility.ReasonAlreadyEngaged {
			s.metrics.IncConflict("match")
			return nil, fmt.Errorf("donor %s has an open match on request %s: %w",
				donor.ID, open[donor.ID], domain.ErrConflict)
		}
		return nil, domain.NewValidationError("donor_id", "donor is not eligible: "+check.Reason.String())
	}

	km, err := s.proximity.Distance(ctx, donor.Location, req.DeliveryLocation)
	if err != nil {
		if donor.Location == nil {
			return nil, domain.NewValidationError("donor_id", "donor has no known location")
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalService, err)
	}
	if !proximity.Within(km, donor.TravelRadiusKm, radius) {
		return nil, domain.NewValidationError("donor_id",
			fmt.Sprintf("donor is %.2f km away, outside the %.2f km limit", km, min(donor.TravelRadiusKm, radius)))
	}

	priority := check.Compatible.PriorityLevel
	m, err := s.matches.Create(ctx, &domain.Match{
		ID:                 uuid.New(),
		RequestID:          req.ID,
		DonorID:            donor.ID,
		CompatibilityScore: domain.CompatibilityScore(s.cfg.PriorityOrder.Rank(priority), km),
		PriorityLevel:      priority,
		DistanceKm:         km,
		Status:             domain.MatchStatusProposed,
		ProposedAt:         now,
		StatusChangedAt:    now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.IncConflict("match")
		}
		return nil, fmt.Errorf("create match: %w", err)
	}

	s.log.InfoContext(ctx, "match proposed",
		slog.String("match_id", m.ID.String()),
		slog.String("request_id", req.ID.String()),
		slog.String("donor_id", donor.ID.String()),
		slog.Float64("distance_km", km),
		slog.Float64("score", m.CompatibilityScore),
	)
	s.notify(ctx, domain.EventMatchProposed, m, map[string]string{
		"distance_km": strconv.FormatFloat(km, 'f', 2, 64),
		"urgency":     req.Urgency.String(),
	})
	return m, nil
}
