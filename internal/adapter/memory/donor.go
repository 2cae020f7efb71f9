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

// DonorRepo stores donors, their conditions, availability and donations.
type DonorRepo struct {
	store *Store
}

func (r *DonorRepo) Create(ctx context.Context, d *domain.Donor) (*domain.Donor, error) {
	var out domain.Donor
	err := r.store.write(ctx, func(st *state) error {
		if _, ok := st.donors[d.ID]; ok {
			return fmt.Errorf("donor %s: %w", d.ID, domain.ErrAlreadyExists)
		}
		for _, existing := range st.donors {
			if existing.UserID == d.UserID {
				return fmt.Errorf("donor for user %d: %w", d.UserID, domain.ErrAlreadyExists)
			}
		}
		if _, ok := st.bloodTypes[d.BloodTypeID]; !ok {
			return fmt.Errorf("blood type %d: %w", d.BloodTypeID, domain.ErrNotFound)
		}
		conds, err := resolveConditions(st, conditionIDs(d.Conditions))
		if err != nil {
			return err
		}

		stored := cloneDonor(*d)
		stored.Conditions = conds
		st.donors[d.ID] = stored
		out = cloneDonor(stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DonorRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
	var (
		d  domain.Donor
		ok bool
	)
	r.store.read(ctx, func(st *state) {
		d, ok = st.donors[id]
		d = cloneDonor(d)
	})
	if !ok {
		return nil, fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
	}
	return &d, nil
}

func (r *DonorRepo) GetByUserID(ctx context.Context, userID int64) (*domain.Donor, error) {
	var found *domain.Donor
	r.store.read(ctx, func(st *state) {
		for _, d := range st.donors {
			if d.UserID == userID {
				c := cloneDonor(d)
				found = &c
				return
			}
		}
	})
	if found == nil {
		return nil, fmt.Errorf("donor for user %d: %w", userID, domain.ErrNotFound)
	}
	return found, nil
}

// ListCandidates returns donors of the requested blood types, ordered by ID
// or nearest first when q.Near is set.
func (r *DonorRepo) ListCandidates(ctx context.Context, q domain.DonorQuery) ([]domain.Donor, error) {
	var out []domain.Donor
	r.store.read(ctx, func(st *state) {
		for _, d := range st.donors {
			if !slices.Contains(q.BloodTypeIDs, d.BloodTypeID) {
				continue
			}
			if d.Location == nil {
				if !q.IncludeUnlocated {
					continue
				}
			} else if q.Box != nil && !q.Box.Contains(*d.Location) {
				continue
			}
			out = append(out, cloneDonor(d))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if q.Near != nil {
			li, lj := out[i].Location, out[j].Location
			if (li == nil) != (lj == nil) {
				return li != nil
			}
			if li != nil {
				di, dj := domain.PlanarDistanceSq(*q.Near, *li), domain.PlanarDistanceSq(*q.Near, *lj)
				if di != dj {
					return di < dj
				}
			}
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *DonorRepo) UpdateLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint, radiusKm float64, at time.Time) (*domain.Donor, error) {
	return r.update(ctx, id, func(_ *state, d *domain.Donor) error {
		d.Location = ptr(loc)
		d.LocationUpdatedAt = ptr(at)
		if radiusKm > 0 {
			d.TravelRadiusKm = radiusKm
		}
		d.UpdatedAt = at
		return nil
	})
}

func (r *DonorRepo) SetReadiness(ctx context.Context, id uuid.UUID, ready bool, at time.Time) (*domain.Donor, error) {
	return r.update(ctx, id, func(_ *state, d *domain.Donor) error {
		d.IsReady = ready
		d.ReadyUpdatedAt = at
		d.UpdatedAt = at
		return nil
	})
}

func (r *DonorRepo) SetAvailability(ctx context.Context, id uuid.UUID, windows []domain.AvailabilityWindow, at time.Time) (*domain.Donor, error) {
	return r.update(ctx, id, func(_ *state, d *domain.Donor) error {
		d.Availability = slices.Clone(windows)
		d.UpdatedAt = at
		return nil
	})
}

func (r *DonorRepo) SetConditions(ctx context.Context, id uuid.UUID, ids []int, at time.Time) (*domain.Donor, error) {
	return r.update(ctx, id, func(st *state, d *domain.Donor) error {
		conds, err := resolveConditions(st, ids)
		if err != nil {
			return err
		}
		d.Conditions = conds
		d.UpdatedAt = at
		return nil
	})
}

func (r *DonorRepo) CreateDonation(ctx context.Context, dn *domain.Donation) (*domain.Donation, error) {
	err := r.store.write(ctx, func(st *state) error {
		if _, ok := st.donors[dn.DonorID]; !ok {
			return fmt.Errorf("donor %s: %w", dn.DonorID, domain.ErrNotFound)
		}
		if _, ok := st.components[dn.ComponentID]; !ok {
			return fmt.Errorf("component %d: %w", dn.ComponentID, domain.ErrNotFound)
		}
		if _, ok := st.donations[dn.ID]; ok {
			return fmt.Errorf("donation %s: %w", dn.ID, domain.ErrAlreadyExists)
		}
		st.donations[dn.ID] = *dn
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := *dn
	return &out, nil
}

// SetNextEligible stores the recovery date of one component. A later date
// never gets overwritten by an earlier one.
func (r *DonorRepo) SetNextEligible(ctx context.Context, donorID uuid.UUID, componentID int, date time.Time) error {
	_, err := r.update(ctx, donorID, func(_ *state, d *domain.Donor) error {
		if cur, ok := d.NextEligible[componentID]; ok && cur.After(date) {
			return nil
		}
		if d.NextEligible == nil {
			d.NextEligible = make(map[int]time.Time)
		}
		d.NextEligible[componentID] = date
		return nil
	})
	return err
}

func (r *DonorRepo) update(ctx context.Context, id uuid.UUID, fn func(st *state, d *domain.Donor) error) (*domain.Donor, error) {
	var out domain.Donor
	err := r.store.write(ctx, func(st *state) error {
		d, ok := st.donors[id]
		if !ok {
			return fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
		}
		d = cloneDonor(d)
		if err := fn(st, &d); err != nil {
			return err
		}
		st.donors[id] = d
		out = cloneDonor(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func conditionIDs(conds []domain.HealthCondition) []int {
	ids := make([]int, len(conds))
	for i, c := range conds {
		ids[i] = c.ID
	}
	return ids
}

func resolveConditions(st *state, ids []int) ([]domain.HealthCondition, error) {
	out := make([]domain.HealthCondition, 0, len(ids))
	for _, id := range ids {
		c, ok := st.conditions[id]
		if !ok {
			return nil, fmt.Errorf("health condition %d: %w", id, domain.ErrNotFound)
		}
		out = append(out, c)
	}
	return out, nil
}
