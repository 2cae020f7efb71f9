package donor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
)

// RecordDonationInput describes a completed donation.
type RecordDonationInput struct {
	DonorID     uuid.UUID
	ComponentID int
	DonatedAt   time.Time
	VolumeML    int
}

// Validate checks all fields and collects all errors.
func (i RecordDonationInput) Validate(now time.Time) error {
	var errs []domain.FieldError
	if i.DonorID == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "donor_id", Message: "required"})
	}
	if i.ComponentID <= 0 {
		errs = append(errs, domain.FieldError{Field: "component_id", Message: "required"})
	}
	if i.DonatedAt.IsZero() {
		errs = append(errs, domain.FieldError{Field: "donated_at", Message: "required"})
	} else if i.DonatedAt.After(now) {
		errs = append(errs, domain.FieldError{Field: "donated_at", Message: "must not be in the future"})
	}
	if i.VolumeML <= 0 {
		errs = append(errs, domain.FieldError{Field: "volume_ml", Message: "must be positive"})
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// DonationResult is a stored donation with its effects.
type DonationResult struct {
	Donation     *domain.Donation
	NextEligible time.Time
	// Unit is the quarantined unit created from the donation, if inventory
	// intake is wired.
	Unit *domain.InventoryUnit
}

// RecordDonation stores a donation, pushes the donor's next eligible date for
// that component out by its recovery period and, when intake is wired, puts
// the collected unit into quarantine. All of it happens in one transaction.
func (s *Service) RecordDonation(ctx context.Context, input RecordDonationInput) (*DonationResult, error) {
	now := s.now()
	if err := input.Validate(now); err != nil {
		return nil, err
	}

	comp, err := s.ref.GetComponent(ctx, input.ComponentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("component_id", "unknown component")
		}
		return nil, fmt.Errorf("get component: %w", err)
	}

	res := &DonationResult{NextEligible: comp.NextEligibleAfter(input.DonatedAt)}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.donors.GetByID(ctx, input.DonorID)
		if err != nil {
			return fmt.Errorf("get donor: %w", err)
		}

		dn, err := s.donors.CreateDonation(ctx, &domain.Donation{
			ID:          uuid.New(),
			DonorID:     d.ID,
			ComponentID: comp.ID,
			DonatedAt:   input.DonatedAt.UTC(),
			VolumeML:    input.VolumeML,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("create donation: %w", err)
		}
		res.Donation = dn

		if err := s.donors.SetNextEligible(ctx, d.ID, comp.ID, res.NextEligible); err != nil {
			return fmt.Errorf("set next eligible: %w", err)
		}

		if s.units == nil {
			return nil
		}
		donationID := dn.ID
		u, err := s.units.RegisterUnit(ctx, inventory.RegisterUnitInput{
			DonationID:  &donationID,
			BloodTypeID: d.BloodTypeID,
			ComponentID: comp.ID,
			VolumeML:    input.VolumeML,
			CollectedAt: input.DonatedAt,
		})
		if err != nil {
			return err
		}
		res.Unit = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "donation recorded",
		slog.String("donor_id", input.DonorID.String()),
		slog.String("component", comp.Code),
		slog.Time("next_eligible", res.NextEligible),
	)
	return res, nil
}
