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

// MatchRepo stores donor matches. A donor holds at most one open match.
type MatchRepo struct {
	store *Store
}

func (r *MatchRepo) Create(ctx context.Context, m *domain.Match) (*domain.Match, error) {
	err := r.store.write(ctx, func(st *state) error {
		if _, ok := st.matches[m.ID]; ok {
			return fmt.Errorf("match %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		if err := requireOpenRequest(st, m.RequestID); err != nil {
			return err
		}
		if _, ok := st.donors[m.DonorID]; !ok {
			return fmt.Errorf("donor %s: %w", m.DonorID, domain.ErrNotFound)
		}
		if m.Status.IsOpen() {
			for _, other := range st.matches {
				if other.DonorID == m.DonorID && other.Status.IsOpen() {
					return fmt.Errorf("donor %s already has an open match: %w", m.DonorID, domain.ErrConflict)
				}
			}
		}
		st.matches[m.ID] = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

func (r *MatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var (
		m  domain.Match
		ok bool
	)
	r.store.read(ctx, func(st *state) { m, ok = st.matches[id] })
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
	}
	return &m, nil
}

// ListByRequest returns matches best score first.
func (r *MatchRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error) {
	out := r.filter(ctx, func(m domain.Match) bool { return m.RequestID == requestID })
	sortMatches(out)
	return out, nil
}

func (r *MatchRepo) ListByPair(ctx context.Context, requestID, donorID uuid.UUID) ([]domain.Match, error) {
	out := r.filter(ctx, func(m domain.Match) bool { return m.RequestID == requestID && m.DonorID == donorID })
	sortMatches(out)
	return out, nil
}

// OpenByDonors maps each given donor holding an open match to that match's request.
func (r *MatchRepo) OpenByDonors(ctx context.Context, donorIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	for _, m := range r.filter(ctx, func(m domain.Match) bool {
		return m.Status.IsOpen() && slices.Contains(donorIDs, m.DonorID)
	}) {
		out[m.DonorID] = m.RequestID
	}
	return out, nil
}

func (r *MatchRepo) CountByStatus(ctx context.Context, requestID uuid.UUID) (map[domain.MatchStatus]int, error) {
	out := make(map[domain.MatchStatus]int)
	for _, m := range r.filter(ctx, func(m domain.Match) bool { return m.RequestID == requestID }) {
		out[m.Status]++
	}
	return out, nil
}

func (r *MatchRepo) MarkContacted(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Match, error) {
	return r.transition(ctx, id, []domain.MatchStatus{domain.MatchStatusProposed}, func(m *domain.Match) {
		m.Status = domain.MatchStatusContacted
		m.ContactedAt = ptr(at)
		m.StatusChangedAt = at
	})
}

func (r *MatchRepo) RecordResponse(ctx context.Context, id uuid.UUID, resp domain.MatchResponse, at time.Time) (*domain.Match, error) {
	return r.transition(ctx, id, []domain.MatchStatus{domain.MatchStatusContacted}, func(m *domain.Match) {
		m.Status = resp.Status()
		m.DonorResponse = ptr(resp)
		m.RespondedAt = ptr(at)
		m.StatusChangedAt = at
	})
}

// ExpireStale expires open matches whose last transition is before cutoff.
func (r *MatchRepo) ExpireStale(ctx context.Context, cutoff, at time.Time) ([]domain.Match, error) {
	return r.expireWhere(ctx, at, func(m domain.Match) bool { return m.StatusChangedAt.Before(cutoff) })
}

func (r *MatchRepo) ExpireOpenForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]domain.Match, error) {
	return r.expireWhere(ctx, at, func(m domain.Match) bool { return m.RequestID == requestID })
}

func (r *MatchRepo) expireWhere(ctx context.Context, at time.Time, pred func(domain.Match) bool) ([]domain.Match, error) {
	var out []domain.Match
	err := r.store.write(ctx, func(st *state) error {
		for id, m := range st.matches {
			if !m.Status.IsOpen() || !pred(m) {
				continue
			}
			m.Status = domain.MatchStatusExpired
			m.StatusChangedAt = at
			st.matches[id] = m
			out = append(out, m)
		}
		return nil
	})
	sortMatches(out)
	return out, err
}

func (r *MatchRepo) transition(ctx context.Context, id uuid.UUID, from []domain.MatchStatus, apply func(m *domain.Match)) (*domain.Match, error) {
	var out domain.Match
	err := r.store.write(ctx, func(st *state) error {
		m, ok := st.matches[id]
		if !ok {
			return fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
		}
		if !slices.Contains(from, m.Status) {
			return &domain.TransitionError{
				Entity:   "match",
				ID:       id.String(),
				Expected: statusStrings(from),
				Actual:   m.Status.String(),
			}
		}
		apply(&m)
		st.matches[id] = m
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MatchRepo) filter(ctx context.Context, pred func(domain.Match) bool) []domain.Match {
	var out []domain.Match
	r.store.read(ctx, func(st *state) {
		for _, m := range st.matches {
			if pred(m) {
				out = append(out, m)
			}
		}
	})
	return out
}

func sortMatches(ms []domain.Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CompatibilityScore != ms[j].CompatibilityScore {
			return ms[i].CompatibilityScore < ms[j].CompatibilityScore
		}
		return ms[i].ID.String() < ms[j].ID.String()
	})
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
