// Package request drives a blood request from creation to close-out. It
// orchestrates compatibility, donor matching, inventory and SLA tracking.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/metrics"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
)

type requestRepo interface {
	Create(ctx context.Context, r *domain.Request) (*domain.Request, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	List(ctx context.Context, f domain.RequestFilter) ([]domain.Request, error)
	Transition(ctx context.Context, id uuid.UUID, from []domain.RequestStatus, to domain.RequestStatus, at time.Time) (*domain.Request, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Request, error)
	ListSLAPending(ctx context.Context, limit int) ([]domain.Request, error)
	MarkSLAWarned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkSLABreached(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type referenceRepo interface {
	GetBloodType(ctx context.Context, id int) (*domain.BloodType, error)
	GetComponent(ctx context.Context, id int) (*domain.Component, error)
	GetSLAConfig(ctx context.Context, urgency domain.Urgency) (*domain.SLAConfig, error)
}

type resolver interface {
	Resolve(ctx context.Context, recipientBloodTypeID, componentID int) (compatibility.Set, error)
}

type matcher interface {
	Search(ctx context.Context, req *domain.Request, compatible compatibility.Set, opts matching.SearchOptions) (*matching.SearchResult, error)
	Propose(ctx context.Context, req *domain.Request, compatible compatibility.Set, input matching.ProposeInput) (*domain.Match, error)
	MarkContacted(ctx context.Context, matchID uuid.UUID) (*domain.Match, error)
	RecordResponse(ctx context.Context, matchID uuid.UUID, resp domain.MatchResponse) (*domain.Match, error)
	GetMatch(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error)
	CountByStatus(ctx context.Context, requestID uuid.UUID) (map[domain.MatchStatus]int, error)
	ExpireOpenForRequest(ctx context.Context, requestID uuid.UUID, now time.Time) ([]domain.Match, error)
	NotifyExpired(ctx context.Context, matches []domain.Match, reason string)
}

type allocator interface {
	Allocate(ctx context.Context, req *domain.Request, compatible compatibility.Set, need int, exclude ...uuid.UUID) ([]domain.InventoryUnit, error)
	Issue(ctx context.Context, unitID, requestID uuid.UUID) (*domain.InventoryUnit, error)
	Release(ctx context.Context, unitID uuid.UUID) (*domain.InventoryUnit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error)
	ListForRequest(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error)
	CountForRequest(ctx context.Context, requestID uuid.UUID) (domain.UnitCounts, error)
	ReleaseForRequest(ctx context.Context, requestID uuid.UUID, now time.Time) ([]uuid.UUID, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

var (
	_ matcher   = (*matching.Service)(nil)
	_ allocator = (*inventory.Service)(nil)
)

// Config holds request policy.
type Config struct {
	MaxQuantity int
	// SweepBatch caps the requests loaded per expiry or SLA scan.
	SweepBatch int
}

// Service manages the request lifecycle.
type Service struct {
	requests requestRepo
	ref      referenceRepo
	rules    resolver
	matches  matcher
	units    allocator
	tx       txManager
	notifier notifier
	metrics  *metrics.Metrics
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// Deps groups the collaborators of a request Service.
type Deps struct {
	Requests requestRepo
	Ref      referenceRepo
	Rules    resolver
	Matches  matcher
	Units    allocator
	Tx       txManager
	Notifier notifier
	Metrics  *metrics.Metrics
}

// NewService creates a new request service.
func NewService(log *slog.Logger, deps Deps, cfg Config) *Service {
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 50
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}
	return &Service{
		requests: deps.Requests,
		ref:      deps.Ref,
		rules:    deps.Rules,
		matches:  deps.Matches,
		units:    deps.Units,
		tx:       deps.Tx,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		cfg:      cfg,
		log:      log.With("service", "request"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetRequest returns one request.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// ListRequests returns requests matching the filter, newest first.
func (s *Service) ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.Request, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	for _, st := range f.Statuses {
		if !st.IsValid() {
			return nil, domain.NewValidationError("status", "unknown status "+st.String())
		}
	}
	if f.Urgency != nil && !f.Urgency.IsValid() {
		return nil, domain.NewValidationError("urgency", "unknown urgency "+f.Urgency.String())
	}
	return s.requests.List(ctx, f)
}

// ListMatches returns the matches of a request, best score first.
func (s *Service) ListMatches(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return s.matches.ListByRequest(ctx, requestID)
}

// ListUnits returns the units reserved for or issued to a request.
func (s *Service) ListUnits(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return s.units.ListForRequest(ctx, requestID)
}

// Progress tallies what has been secured for a request.
func (s *Service) Progress(ctx context.Context, requestID uuid.UUID) (domain.Progress, error) {
	counts, err := s.matches.CountByStatus(ctx, requestID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("count matches: %w", err)
	}
	units, err := s.units.CountForRequest(ctx, requestID)
	if err != nil {
		return domain.Progress{}, err
	}
	return domain.Progress{
		IssuedUnits:     units.Issued,
		ReservedUnits:   units.Reserved,
		AcceptedMatches: counts[domain.MatchStatusAccepted],
		OpenMatches:     counts[domain.MatchStatusProposed] + counts[domain.MatchStatusContacted],
	}, nil
}

// openRequest loads a request and fails with a TransitionError when it is
// already closed.
func (s *Service) openRequest(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if !r.IsOpen() {
		return nil, closedError(r)
	}
	return r, nil
}

// startMatching moves a REQUESTED request to MATCHING. Losing that race to a
// concurrent caller is fine as long as the request is still open.
func (s *Service) startMatching(ctx context.Context, r *domain.Request) error {
	if r.Status != domain.RequestStatusRequested {
		return nil
	}
	updated, err := s.requests.Transition(ctx, r.ID,
		[]domain.RequestStatus{domain.RequestStatusRequested}, domain.RequestStatusMatching, s.now())
	if err == nil {
		*r = *updated
		return nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("start matching: %w", err)
	}
	current, err := s.openRequest(ctx, r.ID)
	if err != nil {
		return err
	}
	*r = *current
	return nil
}

func (s *Service) compatible(ctx context.Context, r *domain.Request) (compatibility.Set, error) {
	set, err := s.rules.Resolve(ctx, r.BloodTypeID, r.ComponentID)
	if err != nil {
		return nil, fmt.Errorf("resolve compatibility: %w", err)
	}
	return set, nil
}

func (s *Service) notify(ctx context.Context, typ domain.EventType, requestID uuid.UUID, attrs map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, domain.Event{
		Type:       typ,
		RequestID:  requestID,
		OccurredAt: s.now(),
		Attributes: attrs,
	})
}

func closedError(r *domain.Request) error {
	return domain.NewClosedRequestError(r.ID.String(), r.Status)
}
