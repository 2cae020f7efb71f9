package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
	"github.com/heartmarshall/bloodlink-backend/internal/service/request"
)

// requestService defines the minimal interface needed by RequestHandler.
type requestService interface {
	CreateRequest(ctx context.Context, input request.CreateRequestInput) (*domain.Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.Request, error)
	SearchDonorCandidates(ctx context.Context, requestID uuid.UUID, opts matching.SearchOptions) (*matching.SearchResult, error)
	ProposeMatch(ctx context.Context, requestID uuid.UUID, input matching.ProposeInput) (*domain.Match, error)
	ListMatches(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error)
	MarkContacted(ctx context.Context, matchID uuid.UUID) (*domain.Match, error)
	RecordMatchResponse(ctx context.Context, matchID uuid.UUID, resp domain.MatchResponse) (*domain.Match, error)
	AllocateInventory(ctx context.Context, requestID uuid.UUID) (*request.AllocationResult, error)
	ListUnits(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error)
	IssueUnit(ctx context.Context, requestID, unitID uuid.UUID) (*domain.InventoryUnit, error)
	ReleaseUnit(ctx context.Context, requestID, unitID uuid.UUID) (*domain.InventoryUnit, error)
	CancelRequest(ctx context.Context, requestID uuid.UUID) (*request.CloseResult, error)
	GetSLAStatus(ctx context.Context, requestID uuid.UUID) (*request.SLAReport, error)
	Progress(ctx context.Context, requestID uuid.UUID) (domain.Progress, error)
}

// RequestHandler serves the clinical request endpoints.
type RequestHandler struct {
	svc requestService
	log *slog.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(svc requestService, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{svc: svc, log: logger.With("handler", "request")}
}

// Register mounts the request and match routes on r.
func (h *RequestHandler) Register(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/search", h.Search)
			r.Post("/matches", h.Propose)
			r.Get("/matches", h.ListMatches)
			r.Post("/allocate", h.Allocate)
			r.Get("/units", h.ListUnits)
			r.Post("/units/{unitID}/issue", h.Issue)
			r.Post("/units/{unitID}/release", h.Release)
			r.Post("/cancel", h.Cancel)
			r.Get("/sla", h.SLA)
			r.Get("/progress", h.Progress)
		})
	})
	r.Post("/matches/{id}/contacted", h.Contacted)
	r.Post("/matches/{id}/response", h.Respond)
}

// Create handles POST /requests.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	req, err := h.svc.CreateRequest(r.Context(), body.input())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequest(req))
}

// List handles GET /requests?status=&urgency=&requester_id=&limit=&offset=.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseRequestFilter(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	reqs, err := h.svc.ListRequests(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequests(reqs))
}

func parseRequestFilter(r *http.Request) (domain.RequestFilter, error) {
	q := r.URL.Query()
	var f domain.RequestFilter

	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			st := domain.RequestStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !st.IsValid() {
				return f, domain.NewValidationError("status", "unknown status "+strconv.Quote(part))
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("urgency"); raw != "" {
		u := domain.Urgency(strings.ToUpper(raw))
		if !u.IsValid() {
			return f, domain.NewValidationError("urgency", "unknown urgency "+strconv.Quote(raw))
		}
		f.Urgency = &u
	}
	if raw := q.Get("requester_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, domain.NewValidationError("requester_id", "must be a positive integer")
		}
		f.RequesterID = &id
	}

	var err error
	if f.Limit, err = intQuery(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = intQuery(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// Get handles GET /requests/{id}.
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	req, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequest(req))
}

// Search handles POST /requests/{id}/search?radius_km=&limit=&only_available_now=.
func (h *RequestHandler) Search(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var opts matching.SearchOptions
	if opts.RadiusKm, err = floatQuery(r, "radius_km"); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if opts.Limit, err = intQuery(r, "limit", 0); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if raw := r.URL.Query().Get("only_available_now"); raw != "" {
		if opts.OnlyAvailableNow, err = strconv.ParseBool(raw); err != nil {
			writeServiceError(w, r, h.log, domain.NewValidationError("only_available_now", "must be a boolean"))
			return
		}
	}

	res, err := h.svc.SearchDonorCandidates(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSearchResult(res))
}

// Propose handles POST /requests/{id}/matches.
func (h *RequestHandler) Propose(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var body ProposeBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	m, err := h.svc.ProposeMatch(r.Context(), id, matching.ProposeInput{DonorID: body.DonorID, RadiusKm: body.RadiusKm})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatch(m))
}

// ListMatches handles GET /requests/{id}/matches.
func (h *RequestHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	ms, err := h.svc.ListMatches(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatches(ms))
}

// Contacted handles POST /matches/{id}/contacted.
func (h *RequestHandler) Contacted(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	m, err := h.svc.MarkContacted(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatch(m))
}

// Respond handles POST /matches/{id}/response.
func (h *RequestHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	var body RespondBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	resp := domain.MatchResponse(strings.ToUpper(body.Response))
	if !resp.IsValid() {
		writeServiceError(w, r, h.log, domain.NewValidationError("response", "must be ACCEPTED or DECLINED"))
		return
	}
	m, err := h.svc.RecordMatchResponse(r.Context(), id, resp)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatch(m))
}

// Allocate handles POST /requests/{id}/allocate.
func (h *RequestHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	res, err := h.svc.AllocateInventory(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocation(res))
}

// ListUnits handles GET /requests/{id}/units.
func (h *RequestHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	units, err := h.svc.ListUnits(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnits(units))
}

// Issue handles POST /requests/{id}/units/{unitID}/issue.
func (h *RequestHandler) Issue(w http.ResponseWriter, r *http.Request) {
	h.unitAction(w, r, h.svc.IssueUnit)
}

// Release handles POST /requests/{id}/units/{unitID}/release.
func (h *RequestHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.unitAction(w, r, h.svc.ReleaseUnit)
}

func (h *RequestHandler) unitAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, uuid.UUID) (*domain.InventoryUnit, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	unitID, err := uuidParam(r, "unitID")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	u, err := fn(r.Context(), id, unitID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnit(u))
}

// Cancel handles POST /requests/{id}/cancel.
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	res, err := h.svc.CancelRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toClose(res))
}

// SLA handles GET /requests/{id}/sla.
func (h *RequestHandler) SLA(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	rep, err := h.svc.GetSLAStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSLA(rep))
}

// Progress handles GET /requests/{id}/progress.
func (h *RequestHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	p, err := h.svc.Progress(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgress(p))
}
