package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// ReferenceRepo serves blood types, components, conditions, the
// compatibility table and SLA configuration.
type ReferenceRepo struct {
	store *Store
}

func (r *ReferenceRepo) ListRulesForRecipient(ctx context.Context, toBloodTypeID, componentID int) ([]domain.CompatibilityRule, error) {
	var out []domain.CompatibilityRule
	r.store.read(ctx, func(st *state) {
		for _, rule := range st.rules {
			if rule.ToBloodTypeID == toBloodTypeID && rule.ComponentID == componentID {
				out = append(out, rule)
			}
		}
	})
	return out, nil
}

func (r *ReferenceRepo) ListRules(ctx context.Context) ([]domain.CompatibilityRule, error) {
	var out []domain.CompatibilityRule
	r.store.read(ctx, func(st *state) {
		out = append(out, st.rules...)
	})
	return out, nil
}

// ReplaceRules swaps the whole compatibility table.
func (r *ReferenceRepo) ReplaceRules(ctx context.Context, rules []domain.CompatibilityRule) error {
	return r.store.write(ctx, func(st *state) error {
		seen := make(map[[3]int]bool, len(rules))
		for _, rule := range rules {
			key := [3]int{rule.FromBloodTypeID, rule.ToBloodTypeID, rule.ComponentID}
			if seen[key] {
				return fmt.Errorf("rule %v: %w", key, domain.ErrAlreadyExists)
			}
			seen[key] = true
			if _, ok := st.bloodTypes[rule.FromBloodTypeID]; !ok {
				return fmt.Errorf("blood type %d: %w", rule.FromBloodTypeID, domain.ErrNotFound)
			}
			if _, ok := st.bloodTypes[rule.ToBloodTypeID]; !ok {
				return fmt.Errorf("blood type %d: %w", rule.ToBloodTypeID, domain.ErrNotFound)
			}
			if _, ok := st.components[rule.ComponentID]; !ok {
				return fmt.Errorf("component %d: %w", rule.ComponentID, domain.ErrNotFound)
			}
		}
		st.rules = append([]domain.CompatibilityRule(nil), rules...)
		return nil
	})
}

func (r *ReferenceRepo) GetBloodType(ctx context.Context, id int) (*domain.BloodType, error) {
	var (
		bt domain.BloodType
		ok bool
	)
	r.store.read(ctx, func(st *state) { bt, ok = st.bloodTypes[id] })
	if !ok {
		return nil, fmt.Errorf("blood type %d: %w", id, domain.ErrNotFound)
	}
	return &bt, nil
}

func (r *ReferenceRepo) ListBloodTypes(ctx context.Context) ([]domain.BloodType, error) {
	var out []domain.BloodType
	r.store.read(ctx, func(st *state) {
		for _, bt := range st.bloodTypes {
			out = append(out, bt)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReferenceRepo) UpsertBloodType(ctx context.Context, bt domain.BloodType) error {
	return r.store.write(ctx, func(st *state) error {
		st.bloodTypes[bt.ID] = bt
		return nil
	})
}

func (r *ReferenceRepo) GetComponent(ctx context.Context, id int) (*domain.Component, error) {
	var (
		c  domain.Component
		ok bool
	)
	r.store.read(ctx, func(st *state) { c, ok = st.components[id] })
	if !ok {
		return nil, fmt.Errorf("component %d: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (r *ReferenceRepo) ListComponents(ctx context.Context) ([]domain.Component, error) {
	var out []domain.Component
	r.store.read(ctx, func(st *state) {
		for _, c := range st.components {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReferenceRepo) UpsertComponent(ctx context.Context, c domain.Component) error {
	return r.store.write(ctx, func(st *state) error {
		st.components[c.ID] = c
		return nil
	})
}

func (r *ReferenceRepo) ListHealthConditions(ctx context.Context) ([]domain.HealthCondition, error) {
	var out []domain.HealthCondition
	r.store.read(ctx, func(st *state) {
		for _, c := range st.conditions {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReferenceRepo) UpsertHealthCondition(ctx context.Context, c domain.HealthCondition) error {
	return r.store.write(ctx, func(st *state) error {
		st.conditions[c.ID] = c
		return nil
	})
}

func (r *ReferenceRepo) GetSLAConfig(ctx context.Context, urgency domain.Urgency) (*domain.SLAConfig, error) {
	var (
		cfg domain.SLAConfig
		ok  bool
	)
	r.store.read(ctx, func(st *state) { cfg, ok = st.sla[urgency] })
	if !ok {
		return nil, fmt.Errorf("sla config %s: %w", urgency, domain.ErrNotFound)
	}
	return &cfg, nil
}

func (r *ReferenceRepo) ListSLAConfigs(ctx context.Context) ([]domain.SLAConfig, error) {
	var out []domain.SLAConfig
	r.store.read(ctx, func(st *state) {
		for _, u := range domain.AllUrgencies() {
			if cfg, ok := st.sla[u]; ok {
				out = append(out, cfg)
			}
		}
	})
	return out, nil
}

func (r *ReferenceRepo) UpsertSLAConfig(ctx context.Context, cfg domain.SLAConfig) error {
	return r.store.write(ctx, func(st *state) error {
		st.sla[cfg.Urgency] = cfg
		return nil
	})
}
