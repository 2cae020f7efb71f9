package request

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
)

// SearchDonorCandidates ranks donors for an open request. The first search
// moves the request to MATCHING.
func (s *Service) SearchDonorCandidates(ctx context.Context, requestID uuid.UUID, opts matching.SearchOptions) (*matching.SearchResult, error) {
	r, err := s.openRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	compatible, err := s.compatible(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := s.startMatching(ctx, r); err != nil {
		return nil, err
	}
	return s.matches.Search(ctx, r, compatible, opts)
}

// ProposeMatch proposes one donor against an open request.
func (s *Service) ProposeMatch(ctx context.Context, requestID uuid.UUID, input matching.ProposeInput) (*domain.Match, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	r, err := s.openRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	compatible, err := s.compatible(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := s.startMatching(ctx, r); err != nil {
		return nil, err
	}
	return s.matches.Propose(ctx, r, compatible, input)
}

// MarkContacted records that the donor of a match was reached.
func (s *Service) MarkContacted(ctx context.Context, matchID uuid.UUID) (*domain.Match, error) {
	if _, err := s.openMatchRequest(ctx, matchID); err != nil {
		return nil, err
	}
	return s.matches.MarkContacted(ctx, matchID)
}

// RecordMatchResponse stores the donor's answer. An acceptance may complete
// the request.
func (s *Service) RecordMatchResponse(ctx context.Context, matchID uuid.UUID, resp domain.MatchResponse) (*domain.Match, error) {
	if !resp.IsValid() {
		return nil, domain.NewValidationError("response", "must be ACCEPTED or DECLINED")
	}
	r, err := s.openMatchRequest(ctx, matchID)
	if err != nil {
		return nil, err
	}

	m, err := s.matches.RecordResponse(ctx, matchID, resp)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.MatchStatusAccepted {
		if err := s.tryFulfill(ctx, r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Service) openMatchRequest(ctx context.Context, matchID uuid.UUID) (*domain.Request, error) {
	m, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return s.openRequest(ctx, m.RequestID)
}
