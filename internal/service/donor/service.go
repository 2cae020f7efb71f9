// Package donor maintains donor profiles: location, readiness, availability,
// health conditions and the recovery windows that follow a donation.
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
	"github.com/heartmarshall/bloodlink-backend/pkg/ctxutil"
)

type donorRepo interface {
	Create(ctx context.Context, d *domain.Donor) (*domain.Donor, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Donor, error)
	GetByUserID(ctx context.Context, userID int64) (*domain.Donor, error)
	UpdateLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint, radiusKm float64, at time.Time) (*domain.Donor, error)
	SetReadiness(ctx context.Context, id uuid.UUID, ready bool, at time.Time) (*domain.Donor, error)
	SetAvailability(ctx context.Context, id uuid.UUID, windows []domain.AvailabilityWindow, at time.Time) (*domain.Donor, error)
	SetConditions(ctx context.Context, id uuid.UUID, conditionIDs []int, at time.Time) (*domain.Donor, error)
	CreateDonation(ctx context.Context, dn *domain.Donation) (*domain.Donation, error)
	SetNextEligible(ctx context.Context, donorID uuid.UUID, componentID int, date time.Time) error
}

type referenceRepo interface {
	GetBloodType(ctx context.Context, id int) (*domain.BloodType, error)
	GetComponent(ctx context.Context, id int) (*domain.Component, error)
}

type unitIntake interface {
	RegisterUnit(ctx context.Context, input inventory.RegisterUnitInput) (*domain.InventoryUnit, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds donor profile limits.
type Config struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
}

// Service manages donor profiles.
type Service struct {
	donors donorRepo
	ref    referenceRepo
	units  unitIntake
	tx     txManager
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// NewService creates a new donor service. units may be nil, in which case
// recorded donations do not enter inventory.
func NewService(log *slog.Logger, donors donorRepo, ref referenceRepo, units unitIntake, tx txManager, cfg Config) *Service {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 25
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = 500
	}
	return &Service{
		donors: donors,
		ref:    ref,
		units:  units,
		tx:     tx,
		cfg:    cfg,
		log:    log.With("service", "donor"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetDonor returns one donor.
func (s *Service) GetDonor(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
	return s.donors.GetByID(ctx, id)
}

// GetMe returns the donor profile of the calling actor.
func (s *Service) GetMe(ctx context.Context) (*domain.Donor, error) {
	actorID, ok := ctxutil.ActorIDFromCtx(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return s.donors.GetByUserID(ctx, actorID)
}

// RegisterInput describes a new donor profile for the calling actor.
type RegisterInput struct {
	BloodTypeID    int
	Location       *domain.GeoPoint
	TravelRadiusKm float64
	Ready          bool
}

// Validate checks all fields and collects all errors.
func (i RegisterInput) Validate(maxRadiusKm float64) error {
	var errs []domain.FieldError
	if i.BloodTypeID <= 0 {
		errs = append(errs, domain.FieldError{Field: "blood_type_id", Message: "required"})
	}
	if i.Location != nil && !i.Location.IsValid() {
		errs = append(errs, domain.FieldError{Field: "location", Message: "invalid coordinates"})
	}
	errs = appendRadiusError(errs, i.TravelRadiusKm, maxRadiusKm)
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// Register creates the donor profile of the calling actor. One actor has at
// most one profile.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.Donor, error) {
	actorID, ok := ctxutil.ActorIDFromCtx(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if err := input.Validate(s.cfg.MaxRadiusKm); err != nil {
		return nil, err
	}
	if _, err := s.ref.GetBloodType(ctx, input.BloodTypeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("blood_type_id", "unknown blood type")
		}
		return nil, fmt.Errorf("get blood type: %w", err)
	}

	now := s.now()
	radius := input.TravelRadiusKm
	if radius == 0 {
		radius = s.cfg.DefaultRadiusKm
	}
	d := &domain.Donor{
		ID:             uuid.New(),
		UserID:         actorID,
		BloodTypeID:    input.BloodTypeID,
		TravelRadiusKm: radius,
		IsReady:        input.Ready,
		ReadyUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.Location != nil {
		loc := *input.Location
		d.Location = &loc
		d.LocationUpdatedAt = &now
	}

	created, err := s.donors.Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create donor: %w", err)
	}
	s.log.InfoContext(ctx, "donor registered",
		slog.String("donor_id", created.ID.String()),
		slog.Int64("user_id", actorID),
	)
	return created, nil
}

// UpdateLocation stores a fresh location. A zero TravelRadiusKm keeps the
// current radius.
func (s *Service) UpdateLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint, travelRadiusKm float64) (*domain.Donor, error) {
	var errs []domain.FieldError
	if !loc.IsValid() {
		errs = append(errs, domain.FieldError{Field: "location", Message: "invalid coordinates"})
	}
	errs = appendRadiusError(errs, travelRadiusKm, s.cfg.MaxRadiusKm)
	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}

	d, err := s.donors.UpdateLocation(ctx, id, loc, travelRadiusKm, s.now())
	if err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	return d, nil
}

// SetReadiness toggles whether the donor is willing to be contacted.
func (s *Service) SetReadiness(ctx context.Context, id uuid.UUID, ready bool) (*domain.Donor, error) {
	d, err := s.donors.SetReadiness(ctx, id, ready, s.now())
	if err != nil {
		return nil, fmt.Errorf("set readiness: %w", err)
	}
	s.log.InfoContext(ctx, "donor readiness changed",
		slog.String("donor_id", id.String()),
		slog.Bool("ready", ready),
	)
	return d, nil
}

// SetAvailability replaces the weekly availability windows.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, windows []domain.AvailabilityWindow) (*domain.Donor, error) {
	var errs []domain.FieldError
	for i, w := range windows {
		if !w.IsValid() {
			errs = append(errs, domain.FieldError{Field: fmt.Sprintf("availability[%d]", i), Message: "invalid window"})
		}
	}
	if len(errs) > 0 {
		return nil, &domain.ValidationError{Errors: errs}
	}

	d, err := s.donors.SetAvailability(ctx, id, windows, s.now())
	if err != nil {
		return nil, fmt.Errorf("set availability: %w", err)
	}
	return d, nil
}

// SetConditions replaces the recorded health conditions.
func (s *Service) SetConditions(ctx context.Context, id uuid.UUID, conditionIDs []int) (*domain.Donor, error) {
	seen := make(map[int]bool, len(conditionIDs))
	for _, c := range conditionIDs {
		if seen[c] {
			return nil, domain.NewValidationError("condition_ids", fmt.Sprintf("duplicate condition %d", c))
		}
		seen[c] = true
	}

	d, err := s.donors.SetConditions(ctx, id, conditionIDs, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, getErr := s.donors.GetByID(ctx, id); getErr == nil {
				return nil, domain.NewValidationError("condition_ids", "unknown condition")
			}
		}
		return nil, fmt.Errorf("set conditions: %w", err)
	}
	return d, nil
}

func appendRadiusError(errs []domain.FieldError, radiusKm, maxKm float64) []domain.FieldError {
	if radiusKm < 0 {
		return append(errs, domain.FieldError{Field: "travel_radius_km", Message: "must be positive"})
	}
	if radiusKm > maxKm {
		return append(errs, domain.FieldError{Field: "travel_radius_km", Message: fmt.Sprintf("max %.0f", maxKm)})
	}
	return errs
}
