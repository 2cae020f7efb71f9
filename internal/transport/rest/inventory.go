package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
)

type inventoryService interface {
	RegisterUnit(ctx context.Context, input inventory.RegisterUnitInput) (*domain.InventoryUnit, error)
	ClearQuarantine(ctx context.Context, unitID uuid.UUID) (*domain.InventoryUnit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error)
}

// InventoryHandler serves blood bank stock endpoints.
type InventoryHandler struct {
	svc inventoryService
	log *slog.Logger
}

// NewInventoryHandler creates an InventoryHandler.
func NewInventoryHandler(svc inventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, log: logger.With("handler", "inventory")}
}

// Register mounts the unit routes on r.
func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/units", h.Create)
	r.Get("/units/{id}", h.Get)
	r.Post("/units/{id}/clear-quarantine", h.ClearQuarantine)
}

// Create handles POST /units. Units without a recorded donation come from
// external collections.
func (h *InventoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body RegisterUnitBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	u, err := h.svc.RegisterUnit(r.Context(), inventory.RegisterUnitInput{
		BloodTypeID: body.BloodTypeID,
		ComponentID: body.ComponentID,
		VolumeML:    body.VolumeML,
		CollectedAt: body.CollectedAt,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnit(u))
}

// Get handles GET /units/{id}.
func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	u, err := h.svc.GetUnit(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnit(u))
}

// ClearQuarantine handles POST /units/{id}/clear-quarantine.
func (h *InventoryHandler) ClearQuarantine(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	u, err := h.svc.ClearQuarantine(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnit(u))
}
