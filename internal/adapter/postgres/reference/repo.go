// Package reference implements the reference data repository (blood types,
// components, health conditions, the compatibility table and SLA targets)
// using PostgreSQL.
package reference

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Repo provides reference data persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new reference repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const ruleColumns = `from_blood_type_id, to_blood_type_id, component_id, is_compatible, priority_level`

const listRulesForRecipientSQL = `
SELECT ` + ruleColumns + `
FROM compatibility_rules
WHERE to_blood_type_id = $1 AND component_id = $2
ORDER BY from_blood_type_id`

const listRulesSQL = `
SELECT ` + ruleColumns + `
FROM compatibility_rules
ORDER BY to_blood_type_id, component_id, from_blood_type_id`

const insertRuleSQL = `
INSERT INTO compatibility_rules (` + ruleColumns + `)
VALUES ($1, $2, $3, $4, $5)`

const getBloodTypeSQL = `SELECT id, abo_group, rh_factor FROM blood_types WHERE id = $1`

const listBloodTypesSQL = `SELECT id, abo_group, rh_factor FROM blood_types ORDER BY id`

const upsertBloodTypeSQL = `
INSERT INTO blood_types (id, abo_group, rh_factor) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET abo_group = EXCLUDED.abo_group, rh_factor = EXCLUDED.rh_factor`

const componentColumns = `id, code, name, recovery_days, shelf_life_days`

const getComponentSQL = `SELECT ` + componentColumns + ` FROM components WHERE id = $1`

const listComponentsSQL = `SELECT ` + componentColumns + ` FROM components ORDER BY id`

const upsertComponentSQL = `
INSERT INTO components (` + componentColumns + `) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    recovery_days = EXCLUDED.recovery_days,
    shelf_life_days = EXCLUDED.shelf_life_days`

const listConditionsSQL = `
SELECT id, code, name, donation_ineligible FROM health_conditions ORDER BY id`

const upsertConditionSQL = `
INSERT INTO health_conditions (id, code, name, donation_ineligible) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    donation_ineligible = EXCLUDED.donation_ineligible`

const getSLAConfigSQL = `
SELECT urgency, target_minutes, alert_before_minutes FROM sla_configs WHERE urgency = $1`

const listSLAConfigsSQL = `
SELECT urgency, target_minutes, alert_before_minutes FROM sla_configs`

const upsertSLAConfigSQL = `
INSERT INTO sla_configs (urgency, target_minutes, alert_before_minutes) VALUES ($1, $2, $3)
ON CONFLICT (urgency) DO UPDATE SET
    target_minutes = EXCLUDED.target_minutes,
    alert_before_minutes = EXCLUDED.alert_before_minutes`

// ---------------------------------------------------------------------------
// Compatibility table
// ---------------------------------------------------------------------------

// ListRulesForRecipient returns every rule targeting the recipient type for
// one component, compatible or not.
func (r *Repo) ListRulesForRecipient(ctx context.Context, toBloodTypeID, componentID int) ([]domain.CompatibilityRule, error) {
	return r.listRules(ctx, listRulesForRecipientSQL, toBloodTypeID, componentID)
}

// ListRules returns the whole compatibility table.
func (r *Repo) ListRules(ctx context.Context) ([]domain.CompatibilityRule, error) {
	return r.listRules(ctx, listRulesSQL)
}

func (r *Repo) listRules(ctx context.Context, sql string, args ...any) ([]domain.CompatibilityRule, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list compatibility rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CompatibilityRule, error) {
		var rule domain.CompatibilityRule
		err := row.Scan(&rule.FromBloodTypeID, &rule.ToBloodTypeID, &rule.ComponentID, &rule.IsCompatible, &rule.PriorityLevel)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan compatibility rules: %w", err)
	}
	return rules, nil
}

// ReplaceRules swaps the whole compatibility table atomically. Readers never
// observe a partially loaded table.
func (r *Repo) ReplaceRules(ctx context.Context, rules []domain.CompatibilityRule) error {
	return postgres.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.pool)

		if _, err := q.Exec(ctx, `DELETE FROM compatibility_rules`); err != nil {
			return fmt.Errorf("clear compatibility rules: %w", err)
		}
		if len(rules) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, rule := range rules {
			batch.Queue(insertRuleSQL, rule.FromBloodTypeID, rule.ToBloodTypeID, rule.ComponentID, rule.IsCompatible, rule.PriorityLevel)
		}

		br := q.SendBatch(ctx, batch)
		defer br.Close()

		for _, rule := range rules {
			if _, err := br.Exec(); err != nil {
				key := fmt.Sprintf("%d->%d/%d", rule.FromBloodTypeID, rule.ToBloodTypeID, rule.ComponentID)
				return postgres.MapError(err, "compatibility rule", key)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Blood types & components
// ---------------------------------------------------------------------------

func (r *Repo) GetBloodType(ctx context.Context, id int) (*domain.BloodType, error) {
	var bt domain.BloodType
	err := postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, getBloodTypeSQL, id).
		Scan(&bt.ID, &bt.ABOGroup, &bt.RhFactor)
	if err != nil {
		return nil, postgres.MapError(err, "blood type", id)
	}
	return &bt, nil
}

func (r *Repo) ListBloodTypes(ctx context.Context) ([]domain.BloodType, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, listBloodTypesSQL)
	if err != nil {
		return nil, fmt.Errorf("list blood types: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BloodType, error) {
		var bt domain.BloodType
		err := row.Scan(&bt.ID, &bt.ABOGroup, &bt.RhFactor)
		return bt, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan blood types: %w", err)
	}
	return out, nil
}

func (r *Repo) UpsertBloodType(ctx context.Context, bt domain.BloodType) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, upsertBloodTypeSQL, bt.ID, bt.ABOGroup, bt.RhFactor)
	return postgres.MapError(err, "blood type", bt.ID)
}

func (r *Repo) GetComponent(ctx context.Context, id int) (*domain.Component, error) {
	var c domain.Component
	err := postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, getComponentSQL, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.RecoveryDays, &c.ShelfLifeDays)
	if err != nil {
		return nil, postgres.MapError(err, "component", id)
	}
	return &c, nil
}

func (r *Repo) ListComponents(ctx context.Context) ([]domain.Component, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, listComponentsSQL)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Component, error) {
		var c domain.Component
		err := row.Scan(&c.ID, &c.Code, &c.Name, &c.RecoveryDays, &c.ShelfLifeDays)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan components: %w", err)
	}
	return out, nil
}

func (r *Repo) UpsertComponent(ctx context.Context, c domain.Component) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, upsertComponentSQL, c.ID, c.Code, c.Name, c.RecoveryDays, c.ShelfLifeDays)
	return postgres.MapError(err, "component", c.ID)
}

// ---------------------------------------------------------------------------
// Health conditions
// ---------------------------------------------------------------------------

func (r *Repo) ListHealthConditions(ctx context.Context) ([]domain.HealthCondition, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, listConditionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list health conditions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HealthCondition, error) {
		var c domain.HealthCondition
		err := row.Scan(&c.ID, &c.Code, &c.Name, &c.DonationIneligible)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan health conditions: %w", err)
	}
	return out, nil
}

func (r *Repo) UpsertHealthCondition(ctx context.Context, c domain.HealthCondition) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, upsertConditionSQL, c.ID, c.Code, c.Name, c.DonationIneligible)
	return postgres.MapError(err, "health condition", c.ID)
}

// ---------------------------------------------------------------------------
// SLA configuration
// ---------------------------------------------------------------------------

func (r *Repo) GetSLAConfig(ctx context.Context, urgency domain.Urgency) (*domain.SLAConfig, error) {
	var (
		cfg domain.SLAConfig
		u   string
	)
	err := postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, getSLAConfigSQL, string(urgency)).
		Scan(&u, &cfg.TargetMinutes, &cfg.AlertBeforeMinutes)
	if err != nil {
		return nil, postgres.MapError(err, "sla config", urgency)
	}
	cfg.Urgency = domain.Urgency(u)
	return &cfg, nil
}

// ListSLAConfigs returns the configured targets, most relaxed urgency first.
func (r *Repo) ListSLAConfigs(ctx context.Context) ([]domain.SLAConfig, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, listSLAConfigsSQL)
	if err != nil {
		return nil, fmt.Errorf("list sla configs: %w", err)
	}
	byUrgency := make(map[domain.Urgency]domain.SLAConfig)
	for rows.Next() {
		var (
			cfg domain.SLAConfig
			u   string
		)
		if err := rows.Scan(&u, &cfg.TargetMinutes, &cfg.AlertBeforeMinutes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sla config: %w", err)
		}
		cfg.Urgency = domain.Urgency(u)
		byUrgency[cfg.Urgency] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla configs: %w", err)
	}

	out := make([]domain.SLAConfig, 0, len(byUrgency))
	for _, u := range domain.AllUrgencies() {
		if cfg, ok := byUrgency[u]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *Repo) UpsertSLAConfig(ctx context.Context, cfg domain.SLAConfig) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, upsertSLAConfigSQL, string(cfg.Urgency), cfg.TargetMinutes, cfg.AlertBeforeMinutes)
	return postgres.MapError(err, "sla config", cfg.Urgency)
}
