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

// UnitRepo stores inventory units.
type UnitRepo struct {
	store *Store
}

func (r *UnitRepo) Create(ctx context.Context, u *domain.InventoryUnit) (*domain.InventoryUnit, error) {
	err := r.store.write(ctx, func(st *state) error {
		if _, ok := st.units[u.ID]; ok {
			return fmt.Errorf("unit %s: %w", u.ID, domain.ErrAlreadyExists)
		}
		if _, ok := st.bloodTypes[u.BloodTypeID]; !ok {
			return fmt.Errorf("blood type %d: %w", u.BloodTypeID, domain.ErrNotFound)
		}
		if _, ok := st.components[u.ComponentID]; !ok {
			return fmt.Errorf("component %d: %w", u.ComponentID, domain.ErrNotFound)
		}
		st.units[u.ID] = *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := *u
	return &out, nil
}

func (r *UnitRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error) {
	var (
		u  domain.InventoryUnit
		ok bool
	)
	r.store.read(ctx, func(st *state) { u, ok = st.units[id] })
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

// FindCandidates returns allocatable units, soonest expiry first.
func (r *UnitRepo) FindCandidates(ctx context.Context, q domain.UnitQuery) ([]domain.InventoryUnit, error) {
	var out []domain.InventoryUnit
	r.store.read(ctx, func(st *state) {
		for _, u := range st.units {
			if u.ComponentID == q.ComponentID && slices.Contains(q.BloodTypeIDs, u.BloodTypeID) && u.IsAllocatable(q.Now) {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListByRequest returns units reserved for or issued to requestID.
func (r *UnitRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error) {
	var out []domain.InventoryUnit
	r.store.read(ctx, func(st *state) {
		for _, u := range st.units {
			if eqID(u.ReservedForRequestID, requestID) || eqID(u.IssuedForRequestID, requestID) {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *UnitRepo) CountByRequest(ctx context.Context, requestID uuid.UUID) (domain.UnitCounts, error) {
	var c domain.UnitCounts
	r.store.read(ctx, func(st *state) {
		for _, u := range st.units {
			switch {
			case u.Status == domain.UnitStatusReserved && eqID(u.ReservedForRequestID, requestID):
				c.Reserved++
			case u.Status == domain.UnitStatusIssued && eqID(u.IssuedForRequestID, requestID):
				c.Issued++
			}
		}
	})
	return c, nil
}

// Reserve moves an unexpired AVAILABLE unit to RESERVED for requestID. The
// request must still be open.
func (r *UnitRepo) Reserve(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusAvailable, at, func(st *state, u *domain.InventoryUnit) error {
		if err := requireOpenRequest(st, requestID); err != nil {
			return err
		}
		u.Status = domain.UnitStatusReserved
		u.ReservedForRequestID = ptr(requestID)
		u.ReservedAt = ptr(at)
		return nil
	})
}

func (r *UnitRepo) Release(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusReserved, time.Time{}, func(_ *state, u *domain.InventoryUnit) error {
		u.Status = domain.UnitStatusAvailable
		u.ReservedForRequestID = nil
		u.ReservedAt = nil
		u.UpdatedAt = at
		return nil
	})
}

// Issue moves a unit RESERVED for requestID to ISSUED. Expired units are refused.
func (r *UnitRepo) Issue(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusReserved, at, func(_ *state, u *domain.InventoryUnit) error {
		if !eqID(u.ReservedForRequestID, requestID) {
			return &domain.TransitionError{
				Entity:   "unit",
				ID:       unitID.String(),
				Expected: []string{"RESERVED for request " + requestID.String()},
				Actual:   "RESERVED for another request",
			}
		}
		u.Status = domain.UnitStatusIssued
		u.IssuedForRequestID = ptr(requestID)
		u.ReservedForRequestID = nil
		return nil
	})
}

func (r *UnitRepo) ClearQuarantine(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusQuarantine, time.Time{}, func(_ *state, u *domain.InventoryUnit) error {
		u.Status = domain.UnitStatusAvailable
		u.UpdatedAt = at
		return nil
	})
}

// ExpireDue marks AVAILABLE and RESERVED units past their expiry as EXPIRED
// and reports the reservations that were lost.
func (r *UnitRepo) ExpireDue(ctx context.Context, now time.Time) (int, []domain.LostReservation, error) {
	var (
		n    int
		lost []domain.LostReservation
	)
	err := r.store.write(ctx, func(st *state) error {
		for id, u := range st.units {
			if u.Status != domain.UnitStatusAvailable && u.Status != domain.UnitStatusReserved {
				continue
			}
			if !u.IsExpired(now) {
				continue
			}
			if u.ReservedForRequestID != nil {
				lost = append(lost, domain.LostReservation{UnitID: id, RequestID: *u.ReservedForRequestID, Reason: domain.LostReasonUnitExpired})
			}
			u.Status = domain.UnitStatusExpired
			u.ReservedForRequestID = nil
			u.ReservedAt = nil
			u.UpdatedAt = now
			st.units[id] = u
			n++
		}
		return nil
	})
	sortLost(lost)
	return n, lost, err
}

// ReleaseStale returns RESERVED units held since before cutoff to AVAILABLE.
func (r *UnitRepo) ReleaseStale(ctx context.Context, cutoff, now time.Time) ([]domain.LostReservation, error) {
	var lost []domain.LostReservation
	err := r.store.write(ctx, func(st *state) error {
		for id, u := range st.units {
			if u.Status != domain.UnitStatusReserved || u.ReservedAt == nil || !u.ReservedAt.Before(cutoff) {
				continue
			}
			lost = append(lost, domain.LostReservation{UnitID: id, RequestID: *u.ReservedForRequestID, Reason: domain.LostReasonHoldTimeout})
			u.Status = domain.UnitStatusAvailable
			u.ReservedForRequestID = nil
			u.ReservedAt = nil
			u.UpdatedAt = now
			st.units[id] = u
		}
		return nil
	})
	sortLost(lost)
	return lost, err
}

// ReleaseForRequest releases every unit still reserved for requestID.
func (r *UnitRepo) ReleaseForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.store.write(ctx, func(st *state) error {
		for id, u := range st.units {
			if u.Status != domain.UnitStatusReserved || !eqID(u.ReservedForRequestID, requestID) {
				continue
			}
			u.Status = domain.UnitStatusAvailable
			u.ReservedForRequestID = nil
			u.ReservedAt = nil
			u.UpdatedAt = at
			st.units[id] = u
			ids = append(ids, id)
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, err
}

// transition applies fn if the unit is in status from. A non-zero notExpiredAt
// additionally requires the unit to be unexpired at that instant.
func (r *UnitRepo) transition(ctx context.Context, id uuid.UUID, from domain.UnitStatus, notExpiredAt time.Time, fn func(st *state, u *domain.InventoryUnit) error) (*domain.InventoryUnit, error) {
	var out domain.InventoryUnit
	err := r.store.write(ctx, func(st *state) error {
		u, ok := st.units[id]
		if !ok {
			return fmt.Errorf("unit %s: %w", id, domain.ErrNotFound)
		}
		if u.Status != from {
			return &domain.TransitionError{Entity: "unit", ID: id.String(), Expected: []string{from.String()}, Actual: u.Status.String()}
		}
		if !notExpiredAt.IsZero() && u.IsExpired(notExpiredAt) {
			return &domain.TransitionError{Entity: "unit", ID: id.String(), Expected: []string{from.String()}, Actual: "expired"}
		}
		if err := fn(st, &u); err != nil {
			return err
		}
		if !notExpiredAt.IsZero() {
			u.UpdatedAt = notExpiredAt
		}
		st.units[id] = u
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// requireOpenRequest fails unless requestID exists and is still open.
func requireOpenRequest(st *state, requestID uuid.UUID) error {
	req, ok := st.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, domain.ErrNotFound)
	}
	if !req.IsOpen() {
		return domain.NewClosedRequestError(requestID.String(), req.Status)
	}
	return nil
}

func eqID(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}

func sortLost(lost []domain.LostReservation) {
	sort.Slice(lost, func(i, j int) bool { return lost[i].UnitID.String() < lost[j].UnitID.String() })
}
