package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// RequestRepo stores clinical requests.
type RequestRepo struct {
	store *Store
}

func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	err := r.store.write(ctx, func(st *state) error {
		if _, ok := st.requests[req.ID]; ok {
			return fmt.Errorf("request %s: %w", req.ID, domain.ErrAlreadyExists)
		}
		if _, ok := st.bloodTypes[req.BloodTypeID]; !ok {
			return fmt.Errorf("blood type %d: %w", req.BloodTypeID, domain.ErrNotFound)
		}
		if _, ok := st.components[req.ComponentID]; !ok {
			return fmt.Errorf("component %d: %w", req.ComponentID, domain.ErrNotFound)
		}
		st.requests[req.ID] = *req
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := *req
	return &out, nil
}

func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	var (
		req domain.Request
		ok  bool
	)
	r.store.read(ctx, func(st *state) { req, ok = st.requests[id] })
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return &req, nil
}

// List returns requests newest first.
func (r *RequestRepo) List(ctx context.Context, f domain.RequestFilter) ([]domain.Request, error) {
	out := r.filter(ctx, func(req domain.Request) bool {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
			return false
		}
		if f.Urgency != nil && req.Urgency != *f.Urgency {
			return false
		}
		if f.RequesterID != nil && req.RequesterID != *f.RequesterID {
			return false
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Transition moves a request from one of the given statuses to to. Moving
// into a terminal status stamps ClosedAt.
func (r *RequestRepo) Transition(ctx context.Context, id uuid.UUID, from []domain.RequestStatus, to domain.RequestStatus, at time.Time) (*domain.Request, error) {
	var out domain.Request
	err := r.store.write(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
		}
		if !slices.Contains(from, req.Status) {
			return &domain.TransitionError{
				Entity:   "request",
				ID:       id.String(),
				Expected: statusStrings(from),
				Actual:   req.Status.String(),
			}
		}
		req.Status = to
		req.UpdatedAt = at
		if to.IsTerminal() {
			req.ClosedAt = ptr(at)
		}
		st.requests[id] = req
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOverdue returns open requests whose NeedBefore is at or before now.
func (r *RequestRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Request, error) {
	out := r.filter(ctx, func(req domain.Request) bool { return req.IsOpen() && req.IsOverdue(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].NeedBefore.Before(out[j].NeedBefore) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSLAPending returns open requests that have not yet signalled both a
// warning and a breach, earliest deadline first.
func (r *RequestRepo) ListSLAPending(ctx context.Context, limit int) ([]domain.Request, error) {
	out := r.filter(ctx, func(req domain.Request) bool {
		return req.IsOpen() && (req.SLAWarnedAt == nil || req.SLABreachedAt == nil)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SLADeadline.Before(out[j].SLADeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSLAWarned stamps SLAWarnedAt once. It reports whether this call set it.
func (r *RequestRepo) MarkSLAWarned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, func(req *domain.Request) **time.Time { return &req.SLAWarnedAt }, at)
}

// MarkSLABreached stamps SLABreachedAt once. It reports whether this call set it.
func (r *RequestRepo) MarkSLABreached(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, func(req *domain.Request) **time.Time { return &req.SLABreachedAt }, at)
}

func (r *RequestRepo) stampOnce(ctx context.Context, id uuid.UUID, field func(*domain.Request) **time.Time, at time.Time) (bool, error) {
	var set bool
	err := r.store.write(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
		}
		f := field(&req)
		if *f != nil {
			return nil
		}
		*f = ptr(at)
		req.UpdatedAt = at
		st.requests[id] = req
		set = true
		return nil
	})
	return set, err
}

func (r *RequestRepo) filter(ctx context.Context, pred func(domain.Request) bool) []domain.Request {
	var out []domain.Request
	r.store.read(ctx, func(st *state) {
		for _, req := range st.requests {
			if pred(req) {
				out = append(out, req)
			}
		}
	})
	return out
}
