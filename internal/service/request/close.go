package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// CloseResult is a closed request plus what its close-out released.
type CloseResult struct {
	Request *domain.Request
	Cascade domain.Cascade
}

// CancelRequest cancels an open request. Its reserved units are released and
// its open matches expired in the same transaction.
func (s *Service) CancelRequest(ctx context.Context, requestID uuid.UUID) (*CloseResult, error) {
	res, err := s.closeOut(ctx, requestID, domain.RequestStatusCancelled, s.now())
	if err != nil {
		return nil, err
	}
	s.announceClose(ctx, res, domain.EventRequestCancelled, "request_cancelled")
	return res, nil
}

// ExpireOverdue expires open requests whose NeedBefore has passed. A request
// closed concurrently is skipped.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.requests.ListOverdue(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue requests: %w", err)
	}

	n := 0
	var errs []error
	for _, r := range overdue {
		res, err := s.closeOut(ctx, r.ID, domain.RequestStatusExpired, now)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.announceClose(ctx, res, domain.EventRequestExpired, "request_expired")
		n++
	}
	s.metrics.AddSwept("requests_expired", n)
	return n, errors.Join(errs...)
}

// tryFulfill closes r as FULFILLED once issued units and accepted matches
// cover the requested quantity. Losing the close-out to a concurrent caller
// is not an error.
func (s *Service) tryFulfill(ctx context.Context, r *domain.Request) error {
	p, err := s.Progress(ctx, r.ID)
	if err != nil {
		return err
	}
	if p.Secured() < r.QuantityUnits {
		return nil
	}

	res, err := s.closeOut(ctx, r.ID, domain.RequestStatusFulfilled, s.now())
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.announceClose(ctx, res, domain.EventRequestFulfilled, "request_fulfilled")
	return nil
}

// closeOut moves an open request to a terminal status, releasing leftover
// reservations and expiring open matches atomically.
func (s *Service) closeOut(ctx context.Context, requestID uuid.UUID, to domain.RequestStatus, now time.Time) (*CloseResult, error) {
	res := &CloseResult{}
	var expired []domain.Match

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.requests.Transition(ctx, requestID, domain.OpenRequestStatuses(), to, now)
		if err != nil {
			return fmt.Errorf("close request: %w", err)
		}
		res.Request = r

		released, err := s.units.ReleaseForRequest(ctx, requestID, now)
		if err != nil {
			return err
		}
		res.Cascade.ReleasedUnits = released

		expired, err = s.matches.ExpireOpenForRequest(ctx, requestID, now)
		if err != nil {
			return err
		}
		for _, m := range expired {
			res.Cascade.ExpiredMatches = append(res.Cascade.ExpiredMatches, m.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.IncConflict("request")
		}
		return nil, err
	}

	s.matches.NotifyExpired(ctx, expired, string(to))
	return res, nil
}

func (s *Service) announceClose(ctx context.Context, res *CloseResult, typ domain.EventType, msg string) {
	r := res.Request
	s.log.InfoContext(ctx, msg,
		slog.String("request_id", r.ID.String()),
		slog.String("status", r.Status.String()),
		slog.Int("released_units", len(res.Cascade.ReleasedUnits)),
		slog.Int("expired_matches", len(res.Cascade.ExpiredMatches)),
	)
	s.notify(ctx, typ, r.ID, map[string]string{
		"urgency":         r.Urgency.String(),
		"released_units":  strconv.Itoa(len(res.Cascade.ReleasedUnits)),
		"expired_matches": strconv.Itoa(len(res.Cascade.ExpiredMatches)),
	})
}
