// Package matching searches, proposes and tracks donor matches for requests.
package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/metrics"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
)

type matchRepo interface {
	Create(ctx context.Context, m *domain.Match) (*domain.Match, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error)
	ListByPair(ctx context.Context, requestID, donorID uuid.UUID) ([]domain.Match, error)
	OpenByDonors(ctx context.Context, donorIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	CountByStatus(ctx context.Context, requestID uuid.UUID) (map[domain.MatchStatus]int, error)
	MarkContacted(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Match, error)
	RecordResponse(ctx context.Context, id uuid.UUID, resp domain.MatchResponse, at time.Time) (*domain.Match, error)
	ExpireStale(ctx context.Context, cutoff, at time.Time) ([]domain.Match, error)
	ExpireOpenForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]domain.Match, error)
}

type donorRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Donor, error)
	ListCandidates(ctx context.Context, q domain.DonorQuery) ([]domain.Donor, error)
}

type notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Config holds matching policy.
type Config struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	MatchHold       time.Duration
	MaxCandidates   int
	// PoolLimit caps the donors loaded per search before filtering.
	PoolLimit     int
	PriorityOrder domain.PriorityOrder
}

// Service manages the donor side of a request.
type Service struct {
	matches   matchRepo
	donors    donorRepo
	proximity *proximity.Evaluator
	notifier  notifier
	metrics   *metrics.Metrics
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// NewService creates a new matching service.
func NewService(
	log *slog.Logger,
	matches matchRepo,
	donors donorRepo,
	prox *proximity.Evaluator,
	notifier notifier,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 25
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = 500
	}
	if cfg.MatchHold <= 0 {
		cfg.MatchHold = 2 * time.Hour
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	if !cfg.PriorityOrder.IsValid() {
		cfg.PriorityOrder = domain.PriorityOrderAsc
	}
	return &Service{
		matches:   matches,
		donors:    donors,
		proximity: prox,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		log:       log.With("service", "matching"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// GetMatch returns one match.
func (s *Service) GetMatch(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	return s.matches.GetByID(ctx, id)
}

// ListByRequest returns every match of a request, best score first.
func (s *Service) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error) {
	return s.matches.ListByRequest(ctx, requestID)
}

// CountByStatus tallies the matches of a request.
func (s *Service) CountByStatus(ctx context.Context, requestID uuid.UUID) (map[domain.MatchStatus]int, error) {
	return s.matches.CountByStatus(ctx, requestID)
}

func (s *Service) notify(ctx context.Context, typ domain.EventType, m *domain.Match, attrs map[string]string) {
	if s.notifier == nil {
		return
	}
	id := m.ID
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["donor_id"] = m.DonorID.String()
	attrs["status"] = m.Status.String()
	s.notifier.Notify(ctx, domain.Event{
		Type:       typ,
		RequestID:  m.RequestID,
		MatchID:    &id,
		OccurredAt: s.now(),
		Attributes: attrs,
	})
}
