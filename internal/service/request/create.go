package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/pkg/ctxutil"
)

const maxClinicalNotes = 2000

// CreateRequestInput describes a new clinical request. The requester is
// taken from the calling actor.
type CreateRequestInput struct {
	Urgency          domain.Urgency
	BloodTypeID      int
	ComponentID      int
	QuantityUnits    int
	NeedBefore       time.Time
	DeliveryLocation domain.GeoPoint
	ClinicalNotes    *string
}

// Validate checks all fields and collects all errors.
func (i CreateRequestInput) Validate(now time.Time, maxQuantity int) error {
	var errs []domain.FieldError
	if !i.Urgency.IsValid() {
		errs = append(errs, domain.FieldError{Field: "urgency", Message: "must be ROUTINE, URGENT or EMERGENCY"})
	}
	if i.BloodTypeID <= 0 {
		errs = append(errs, domain.FieldError{Field: "blood_type_id", Message: "required"})
	}
	if i.ComponentID <= 0 {
		errs = append(errs, domain.FieldError{Field: "component_id", Message: "required"})
	}
	if i.QuantityUnits <= 0 {
		errs = append(errs, domain.FieldError{Field: "quantity_units", Message: "must be positive"})
	} else if i.QuantityUnits > maxQuantity {
		errs = append(errs, domain.FieldError{Field: "quantity_units", Message: fmt.Sprintf("max %d", maxQuantity)})
	}
	if !i.NeedBefore.After(now) {
		errs = append(errs, domain.FieldError{Field: "need_before", Message: "must be in the future"})
	}
	if !i.DeliveryLocation.IsValid() {
		errs = append(errs, domain.FieldError{Field: "delivery_location", Message: "invalid coordinates"})
	}
	if i.ClinicalNotes != nil && len(*i.ClinicalNotes) > maxClinicalNotes {
		errs = append(errs, domain.FieldError{Field: "clinical_notes", Message: fmt.Sprintf("max %d characters", maxClinicalNotes)})
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Errors: errs}
	}
	return nil
}

// CreateRequest stores a REQUESTED request. Its SLA deadline is fixed at
// creation from the urgency tier target.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (*domain.Request, error) {
	actorID, ok := ctxutil.ActorIDFromCtx(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	now := s.now()
	if err := input.Validate(now, s.cfg.MaxQuantity); err != nil {
		return nil, err
	}

	if _, err := s.ref.GetBloodType(ctx, input.BloodTypeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("blood_type_id", "unknown blood type")
		}
		return nil, fmt.Errorf("get blood type: %w", err)
	}
	if _, err := s.ref.GetComponent(ctx, input.ComponentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("component_id", "unknown component")
		}
		return nil, fmt.Errorf("get component: %w", err)
	}
	sla, err := s.ref.GetSLAConfig(ctx, input.Urgency)
	if err != nil {
		return nil, fmt.Errorf("get sla config: %w", err)
	}

	r, err := s.requests.Create(ctx, &domain.Request{
		ID:               uuid.New(),
		RequesterID:      actorID,
		Urgency:          input.Urgency,
		BloodTypeID:      input.BloodTypeID,
		ComponentID:      input.ComponentID,
		QuantityUnits:    input.QuantityUnits,
		NeedBefore:       input.NeedBefore.UTC(),
		DeliveryLocation: input.DeliveryLocation,
		ClinicalNotes:    input.ClinicalNotes,
		Status:           domain.RequestStatusRequested,
		SLADeadline:      now.Add(sla.Target()),
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.log.InfoContext(ctx, "request created",
		slog.String("request_id", r.ID.String()),
		slog.Int64("requester_id", actorID),
		slog.String("urgency", r.Urgency.String()),
		slog.Int("quantity", r.QuantityUnits),
		slog.Time("sla_deadline", r.SLADeadline),
	)
	return r, nil
}
