package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/donor"
)

type donorService interface {
	Register(ctx context.Context, input donor.RegisterInput) (*domain.Donor, error)
	GetMe(ctx context.Context) (*domain.Donor, error)
	GetDonor(ctx context.Context, id uuid.UUID) (*domain.Donor, error)
	UpdateLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint, travelRadiusKm float64) (*domain.Donor, error)
	SetReadiness(ctx context.Context, id uuid.UUID, ready bool) (*domain.Donor, error)
	SetAvailability(ctx context.Context, id uuid.UUID, windows []domain.AvailabilityWindow) (*domain.Donor, error)
	SetConditions(ctx context.Context, id uuid.UUID, conditionIDs []int) (*domain.Donor, error)
	RecordDonation(ctx context.Context, input donor.RecordDonationInput) (*donor.DonationResult, error)
}

// DonorHandler serves donor profile endpoints.
type DonorHandler struct {
	svc donorService
	log *slog.Logger
}

// NewDonorHandler creates a DonorHandler.
func NewDonorHandler(svc donorService, logger *slog.Logger) *DonorHandler {
	return &DonorHandler{svc: svc, log: logger.With("handler", "donor")}
}

// Register mounts the donor routes on r.
func (h *DonorHandler) Register(r chi.Router) {
	r.Route("/donors", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/me", h.Me)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/location", h.UpdateLocation)
			r.Put("/readiness", h.SetReadiness)
			r.Put("/availability", h.SetAvailability)
			r.Put("/conditions", h.SetConditions)
			r.Post("/donations", h.RecordDonation)
		})
	})
}

// Create handles POST /donors.
func (h *DonorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body RegisterDonorBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	d, err := h.svc.Register(r.Context(), body.input())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDonor(d))
}

// Me handles GET /donors/me.
func (h *DonorHandler) Me(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetMe(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDonor(d))
}

// Get handles GET /donors/{id}.
func (h *DonorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	d, err := h.svc.GetDonor(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDonor(d))
}

// UpdateLocation handles PUT /donors/{id}/location.
func (h *DonorHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var body LocationBody
	h.update(w, r, &body, func(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
		return h.svc.UpdateLocation(ctx, id, body.Location.point(), body.TravelRadiusKm)
	})
}

// SetReadiness handles PUT /donors/{id}/readiness.
func (h *DonorHandler) SetReadiness(w http.ResponseWriter, r *http.Request) {
	var body ReadinessBody
	h.update(w, r, &body, func(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
		return h.svc.SetReadiness(ctx, id, body.Ready)
	})
}

// SetAvailability handles PUT /donors/{id}/availability. The body is the
// complete list of weekly windows.
func (h *DonorHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var body []AvailabilityDTO
	h.update(w, r, &body, func(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
		windows := make([]domain.AvailabilityWindow, len(body))
		for i, b := range body {
			if b.Weekday < 0 || b.Weekday > 6 {
				return nil, domain.NewValidationError("weekday", "must be in 0..6")
			}
			windows[i] = domain.AvailabilityWindow{Weekday: time.Weekday(b.Weekday), StartMinute: b.StartMinute, EndMinute: b.EndMinute}
		}
		return h.svc.SetAvailability(ctx, id, windows)
	})
}

// SetConditions handles PUT /donors/{id}/conditions.
func (h *DonorHandler) SetConditions(w http.ResponseWriter, r *http.Request) {
	var body ConditionsBody
	h.update(w, r, &body, func(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
		return h.svc.SetConditions(ctx, id, body.ConditionIDs)
	})
}

func (h *DonorHandler) update(w http.ResponseWriter, r *http.Request, body any, fn func(context.Context, uuid.UUID) (*domain.Donor, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if err := decodeJSON(w, r, body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	d, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDonor(d))
}

// RecordDonation handles POST /donors/{id}/donations.
func (h *DonorHandler) RecordDonation(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var body DonationBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	res, err := h.svc.RecordDonation(r.Context(), donor.RecordDonationInput{
		DonorID:     id,
		ComponentID: body.ComponentID,
		DonatedAt:   body.DonatedAt,
		VolumeML:    body.VolumeML,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDonation(res))
}
