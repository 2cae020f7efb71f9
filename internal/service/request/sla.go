package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// SLAReport describes a request against its deadline.
type SLAReport struct {
	RequestID uuid.UUID
	Urgency   domain.Urgency
	Status    domain.SLAStatus
	Deadline  time.Time
	// Remaining is negative once the deadline has passed.
	Remaining time.Duration
}

// GetSLAStatus evaluates a request against its SLA. Closed requests are
// evaluated at the moment they closed.
func (s *Service) GetSLAStatus(ctx context.Context, requestID uuid.UUID) (*SLAReport, error) {
	r, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	cfg, err := s.ref.GetSLAConfig(ctx, r.Urgency)
	if err != nil {
		return nil, fmt.Errorf("get sla config: %w", err)
	}

	at := s.now()
	if r.ClosedAt != nil {
		at = *r.ClosedAt
	}
	return &SLAReport{
		RequestID: r.ID,
		Urgency:   r.Urgency,
		Status:    r.SLAStatusAt(*cfg, at),
		Deadline:  r.SLADeadline,
		Remaining: r.SLADeadline.Sub(at),
	}, nil
}

// ScanResult counts the SLA events emitted by one scan.
type ScanResult struct {
	Warned   int
	Breached int
}

// ScanSLA emits at most one sla.warning and one sla.breached event per open
// request. A breach never changes the request status.
func (s *Service) ScanSLA(ctx context.Context, now time.Time) (ScanResult, error) {
	var res ScanResult

	pending, err := s.requests.ListSLAPending(ctx, s.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list sla pending: %w", err)
	}

	configs := make(map[domain.Urgency]domain.SLAConfig)
	var errs []error
	for i := range pending {
		r := &pending[i]
		cfg, ok := configs[r.Urgency]
		if !ok {
			c, err := s.ref.GetSLAConfig(ctx, r.Urgency)
			if err != nil {
				errs = append(errs, fmt.Errorf("get sla config %s: %w", r.Urgency, err))
				continue
			}
			cfg = *c
			configs[r.Urgency] = cfg
		}

		status := r.SLAStatusAt(cfg, now)
		if status == domain.SLAStatusOnTrack {
			continue
		}

		if r.SLAWarnedAt == nil {
			set, err := s.requests.MarkSLAWarned(ctx, r.ID, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if set {
				res.Warned++
				s.slaEvent(ctx, r, domain.EventSLAWarning, "warning", now)
			}
		}
		if status == domain.SLAStatusBreached && r.SLABreachedAt == nil {
			set, err := s.requests.MarkSLABreached(ctx, r.ID, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if set {
				res.Breached++
				s.slaEvent(ctx, r, domain.EventSLABreached, "breached", now)
			}
		}
	}
	return res, errors.Join(errs...)
}

func (s *Service) slaEvent(ctx context.Context, r *domain.Request, typ domain.EventType, level string, now time.Time) {
	s.metrics.IncSLAEvent(level, r.Urgency.String())
	s.log.WarnContext(ctx, "request sla "+level,
		slog.String("request_id", r.ID.String()),
		slog.String("urgency", r.Urgency.String()),
		slog.Time("deadline", r.SLADeadline),
	)
	s.notify(ctx, typ, r.ID, map[string]string{
		"urgency":   r.Urgency.String(),
		"deadline":  r.SLADeadline.Format(time.RFC3339),
		"remaining": r.SLADeadline.Sub(now).Round(time.Second).String(),
	})
}
