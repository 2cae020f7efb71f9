package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// MarkContacted moves a match from PROPOSED to CONTACTED.
func (s *Service) MarkContacted(ctx context.Context, matchID uuid.UUID) (*domain.Match, error) {
	m, err := s.matches.MarkContacted(ctx, matchID, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("mark contacted: %w", err)
	}

	s.log.InfoContext(ctx, "donor contacted",
		slog.String("match_id", m.ID.String()),
		slog.String("request_id", m.RequestID.String()),
	)
	s.notify(ctx, domain.EventMatchContacted, m, nil)
	return m, nil
}

// RecordResponse moves a CONTACTED match to ACCEPTED or DECLINED.
func (s *Service) RecordResponse(ctx context.Context, matchID uuid.UUID, resp domain.MatchResponse) (*domain.Match, error) {
	if !resp.IsValid() {
		return nil, domain.NewValidationError("response", "must be ACCEPTED or DECLINED")
	}

	m, err := s.matches.RecordResponse(ctx, matchID, resp, s.now())
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("record response: %w", err)
	}

	s.log.InfoContext(ctx, "donor responded",
		slog.String("match_id", m.ID.String()),
		slog.String("request_id", m.RequestID.String()),
		slog.String("response", resp.String()),
	)
	s.notify(ctx, domain.EventMatchResponded, m, map[string]string{"response": resp.String()})
	return m, nil
}

// ExpireStale expires PROPOSED and CONTACTED matches whose last transition is
// older than the match hold, freeing their donors.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) ([]domain.Match, error) {
	expired, err := s.matches.ExpireStale(ctx, now.Add(-s.cfg.MatchHold), now)
	if err != nil {
		return nil, fmt.Errorf("expire stale matches: %w", err)
	}
	for i := range expired {
		s.notify(ctx, domain.EventMatchExpired, &expired[i], map[string]string{"reason": "hold_elapsed"})
	}
	if len(expired) > 0 {
		s.log.InfoContext(ctx, "stale matches expired", slog.Int("count", len(expired)))
	}
	return expired, nil
}

// ExpireOpenForRequest expires every open match of a request. It sends no
// notifications; callers running it inside a transaction notify after commit.
func (s *Service) ExpireOpenForRequest(ctx context.Context, requestID uuid.UUID, now time.Time) ([]domain.Match, error) {
	expired, err := s.matches.ExpireOpenForRequest(ctx, requestID, now)
	if err != nil {
		return nil, fmt.Errorf("expire request matches: %w", err)
	}
	return expired, nil
}

// NotifyExpired announces matches expired by a request close-out.
func (s *Service) NotifyExpired(ctx context.Context, matches []domain.Match, reason string) {
	for i := range matches {
		s.notify(ctx, domain.EventMatchExpired, &matches[i], map[string]string{"reason": reason})
	}
}

func (s *Service) countConflict(err error) {
	if errors.Is(err, domain.ErrConflict) {
		s.metrics.IncConflict("match")
	}
}
