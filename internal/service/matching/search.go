package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/eligibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
	"github.com/heartmarshall/bloodlink-backend/internal/service/ranking"
)

// SearchOptions tune a single search.
type SearchOptions struct {
	RadiusKm         float64
	Limit            int
	OnlyAvailableNow bool
}

// SearchResult lists ranked candidates plus everything that was filtered
// out. Degraded is set when at least one distance lookup failed, so an
// empty Candidates list may be incomplete rather than final.
type SearchResult struct {
	RequestID  uuid.UUID
	RadiusKm   float64
	Candidates []ranking.Ranked
	Excluded   []eligibility.Result
	OutOfRange []uuid.UUID
	Skipped    []proximity.Skip
	Degraded   bool
}

// Search finds, filters and ranks donors for req. compatible must come from
// the compatibility resolver for (req.BloodTypeID, req.ComponentID). Distance
// failures never fail the search; they show up in Skipped.
func (s *Service) Search(ctx context.Context, req *domain.Request, compatible compatibility.Set, opts SearchOptions) (*SearchResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSearch(time.Since(start)) }()

	radius, err := s.radius(opts.RadiusKm)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.cfg.MaxCandidates {
		limit = s.cfg.MaxCandidates
	}

	res := &SearchResult{RequestID: req.ID, RadiusKm: radius}
	if len(compatible) == 0 {
		return res, nil
	}

	box := domain.BoundingBoxAround(req.DeliveryLocation, radius)
	pool, err := s.donors.ListCandidates(ctx, domain.DonorQuery{
		BloodTypeIDs:     compatible.BloodTypeIDs(),
		Box:              &box,
		IncludeUnlocated: true,
		Near:             &req.DeliveryLocation,
		Limit:            s.cfg.PoolLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list donor pool: %w", err)
	}

	engaged, err := s.engagedDonors(ctx, req.ID, pool)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligible, excluded := eligibility.Partition(eligibility.Input{
		Request:             req,
		Compatible:          compatible,
		Now:                 now,
		Engaged:             engaged,
		RequireAvailableNow: opts.OnlyAvailableNow,
	}, pool)
	res.Excluded = excluded

	out := s.proximity.Evaluate(ctx, eligible, req.DeliveryLocation, radius, now)
	res.OutOfRange = out.OutOfRange
	res.Skipped = out.Skipped
	for _, sk := range out.Skipped {
		if sk.Err != nil {
			res.Degraded = true
			break
		}
	}

	ranked := ranking.Rank(out.Within, s.cfg.PriorityOrder)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	res.Candidates = ranked

	s.record(res)
	s.log.InfoContext(ctx, "donor search completed",
		slog.String("request_id", req.ID.String()),
		slog.Float64("radius_km", radius),
		slog.Int("pool", len(pool)),
		slog.Int("candidates", len(res.Candidates)),
		slog.Int("excluded", len(res.Excluded)),
		slog.Int("out_of_range", len(res.OutOfRange)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Bool("degraded", res.Degraded),
	)
	return res, nil
}

// engagedDonors marks donors that must not be proposed again: those holding
// an open match on any request, and those that already answered this one.
func (s *Service) engagedDonors(ctx context.Context, requestID uuid.UUID, pool []domain.Donor) (map[uuid.UUID]bool, error) {
	ids := make([]uuid.UUID, len(pool))
	for i := range pool {
		ids[i] = pool[i].ID
	}

	engaged := make(map[uuid.UUID]bool)
	if len(ids) == 0 {
		return engaged, nil
	}

	open, err := s.matches.OpenByDonors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load open matches: %w", err)
	}
	for donorID := range open {
		engaged[donorID] = true
	}

	existing, err := s.matches.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load request matches: %w", err)
	}
	for _, m := range existing {
		if m.Status != domain.MatchStatusExpired {
			engaged[m.DonorID] = true
		}
	}
	return engaged, nil
}

func (s *Service) radius(requested float64) (float64, error) {
	switch {
	case requested == 0:
		return s.cfg.DefaultRadiusKm, nil
	case requested < 0:
		return 0, domain.NewValidationError("radius_km", "must be positive")
	case requested > s.cfg.MaxRadiusKm:
		return 0, domain.NewValidationError("radius_km", fmt.Sprintf("max %.0f", s.cfg.MaxRadiusKm))
	}
	return requested, nil
}

func (s *Service) record(res *SearchResult) {
	s.metrics.AddSearchDonors("ranked", "", len(res.Candidates))
	s.metrics.AddSearchDonors("out_of_range", "", len(res.OutOfRange))
	for _, ex := range res.Excluded {
		s.metrics.AddSearchDonors("excluded", ex.Reason.String(), 1)
	}
	for _, sk := range res.Skipped {
		s.metrics.AddSearchDonors("skipped", string(sk.Reason), 1)
	}
}
