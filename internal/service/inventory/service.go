// Package inventory allocates stored blood units to requests.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/metrics"
)

type unitRepo interface {
	Create(ctx context.Context, u *domain.InventoryUnit) (*domain.InventoryUnit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error)
	FindCandidates(ctx context.Context, q domain.UnitQuery) ([]domain.InventoryUnit, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error)
	CountByRequest(ctx context.Context, requestID uuid.UUID) (domain.UnitCounts, error)
	Reserve(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error)
	Release(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error)
	Issue(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error)
	ClearQuarantine(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error)
	ExpireDue(ctx context.Context, now time.Time) (int, []domain.LostReservation, error)
	ReleaseStale(ctx context.Context, cutoff, now time.Time) ([]domain.LostReservation, error)
	ReleaseForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]uuid.UUID, error)
}

type componentRepo interface {
	GetComponent(ctx context.Context, id int) (*domain.Component, error)
	GetBloodType(ctx context.Context, id int) (*domain.BloodType, error)
}

// Config holds allocation policy.
type Config struct {
	// ReservationHold is how long a RESERVED unit may wait for issue before
	// the sweeper returns it to stock. Zero disables the timeout.
	ReservationHold time.Duration
	CandidateLimit  int
	// AllocateRounds bounds how many times Allocate refetches candidates
	// after losing reservations to concurrent callers.
	AllocateRounds int
}

// Service manages the unit side of a request.
type Service struct {
	units   unitRepo
	ref     componentRepo
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a new inventory service.
func NewService(log *slog.Logger, units unitRepo, ref componentRepo, m *metrics.Metrics, cfg Config) *Service {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 50
	}
	if cfg.AllocateRounds <= 0 {
		cfg.AllocateRounds = 3
	}
	return &Service{
		units:   units,
		ref:     ref,
		metrics: m,
		cfg:     cfg,
		log:     log.With("service", "inventory"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetUnit returns one unit.
func (s *Service) GetUnit(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error) {
	return s.units.GetByID(ctx, id)
}

// ListForRequest returns the units reserved for or issued to a request.
func (s *Service) ListForRequest(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error) {
	return s.units.ListByRequest(ctx, requestID)
}

// CountForRequest tallies reserved and issued units of a request.
func (s *Service) CountForRequest(ctx context.Context, requestID uuid.UUID) (domain.UnitCounts, error) {
	c, err := s.units.CountByRequest(ctx, requestID)
	if err != nil {
		return domain.UnitCounts{}, fmt.Errorf("count units: %w", err)
	}
	return c, nil
}

// RegisterUnitInput describes a collected unit entering stock.
type RegisterUnitInput struct {
	DonationID  *uuid.UUID
	BloodTypeID int
	ComponentID int
	VolumeML    int
	CollectedAt time.Time
}

// Validate checks all fields and collects all errors.
func (i RegisterUnitInput) Validate() error {
	var errs []domain.FieldError
	if i.BloodTypeID <= 0 {
		errs = append(errs, domain.FieldError{Field: "blood_type_id", Message: "required"})
	}
	if i.ComponentID <= 0 {
		errs = append(errs, domain.FieldError{Field: "component_id", Message: "required"})
	}
	if i.VolumeML <= 0 {
		errs = append(errs, domain.FieldError{Field: "volume_ml", Message: "must be positive"})
	}
	if i.CollectedAt.IsZero() {
		errs = append(errs, domain.FieldError{Field: "collected_at", Message: "required"})
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// RegisterUnit stores a new unit in QUARANTINE. Its expiry is derived from
// the component shelf life.
func (s *Service) RegisterUnit(ctx context.Context, input RegisterUnitInput) (*domain.InventoryUnit, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if input.CollectedAt.After(now) {
		return nil, domain.NewValidationError("collected_at", "must not be in the future")
	}

	comp, err := s.ref.GetComponent(ctx, input.ComponentID)
	if err != nil {
		return nil, fmt.Errorf("get component: %w", err)
	}
	if _, err := s.ref.GetBloodType(ctx, input.BloodTypeID); err != nil {
		return nil, fmt.Errorf("get blood type: %w", err)
	}

	u, err := s.units.Create(ctx, &domain.InventoryUnit{
		ID:          uuid.New(),
		DonationID:  input.DonationID,
		BloodTypeID: input.BloodTypeID,
		ComponentID: input.ComponentID,
		VolumeML:    input.VolumeML,
		CollectedAt: input.CollectedAt.UTC(),
		ExpiresAt:   input.CollectedAt.UTC().Add(comp.ShelfLife()),
		Status:      domain.UnitStatusQuarantine,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create unit: %w", err)
	}

	s.log.InfoContext(ctx, "unit registered",
		slog.String("unit_id", u.ID.String()),
		slog.String("component", comp.Code),
		slog.Time("expires_at", u.ExpiresAt),
	)
	return u, nil
}

// ClearQuarantine releases a tested unit into AVAILABLE stock.
func (s *Service) ClearQuarantine(ctx context.Context, unitID uuid.UUID) (*domain.InventoryUnit, error) {
	u, err := s.units.ClearQuarantine(ctx, unitID, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("clear quarantine: %w", err)
	}
	return u, nil
}
