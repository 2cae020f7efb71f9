// Package donor implements the donor repository using PostgreSQL. A donor
// row is loaded together with its health conditions, availability windows
// and per-component recovery dates.
package donor

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Repo provides donor persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new donor repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

var donorColumns = []string{
	"id", "user_id", "blood_type_id", "lat", "lng", "location_updated_at",
	"travel_radius_km", "is_ready", "ready_updated_at", "created_at", "updated_at",
}

const selectDonorSQL = `
SELECT id, user_id, blood_type_id, lat, lng, location_updated_at,
       travel_radius_km, is_ready, ready_updated_at, created_at, updated_at
FROM donors`

const insertDonorSQL = `
INSERT INTO donors (id, user_id, blood_type_id, lat, lng, location_updated_at,
                    travel_radius_km, is_ready, ready_updated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const updateLocationSQL = `
UPDATE donors
SET lat = $2, lng = $3, location_updated_at = $4,
    travel_radius_km = CASE WHEN $5::double precision > 0 THEN $5 ELSE travel_radius_km END,
    updated_at = $4
WHERE id = $1`

const setReadinessSQL = `
UPDATE donors SET is_ready = $2, ready_updated_at = $3, updated_at = $3 WHERE id = $1`

const touchDonorSQL = `UPDATE donors SET updated_at = $2 WHERE id = $1`

const conditionsByDonorsSQL = `
SELECT dc.donor_id, hc.id, hc.code, hc.name, hc.donation_ineligible
FROM donor_conditions dc
JOIN health_conditions hc ON hc.id = dc.condition_id
WHERE dc.donor_id = ANY($1::uuid[])
ORDER BY dc.donor_id, hc.id`

const availabilityByDonorsSQL = `
SELECT donor_id, weekday, start_minute, end_minute
FROM donor_availability
WHERE donor_id = ANY($1::uuid[])
ORDER BY donor_id, weekday, start_minute`

const recoveryByDonorsSQL = `
SELECT donor_id, component_id, next_eligible_date
FROM donor_recovery
WHERE donor_id = ANY($1::uuid[])`

const insertConditionsSQL = `
INSERT INTO donor_conditions (donor_id, condition_id)
SELECT $1, unnest($2::int[])`

const insertAvailabilitySQL = `
INSERT INTO donor_availability (donor_id, weekday, start_minute, end_minute)
VALUES ($1, $2, $3, $4)`

// A later recovery date is never replaced by an earlier one.
const upsertRecoverySQL = `
INSERT INTO donor_recovery (donor_id, component_id, next_eligible_date)
VALUES ($1, $2, $3)
ON CONFLICT (donor_id, component_id) DO UPDATE
SET next_eligible_date = GREATEST(donor_recovery.next_eligible_date, EXCLUDED.next_eligible_date)`

const insertDonationSQL = `
INSERT INTO donations (id, donor_id, component_id, donated_at, volume_ml, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Donor, error) {
	return r.getOne(ctx, selectDonorSQL+` WHERE id = $1`, "donor", id)
}

func (r *Repo) GetByUserID(ctx context.Context, userID int64) (*domain.Donor, error) {
	return r.getOne(ctx, selectDonorSQL+` WHERE user_id = $1`, "donor for user", userID)
}

func (r *Repo) getOne(ctx context.Context, sql, entity string, key any) (*domain.Donor, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	d, err := scanDonor(q.QueryRow(ctx, sql, key))
	if err != nil {
		return nil, postgres.MapError(err, entity, key)
	}

	donors := []domain.Donor{d}
	if err := loadDetails(ctx, q, donors); err != nil {
		return nil, err
	}
	return &donors[0], nil
}

// ListCandidates returns donors of the requested blood types ordered by ID,
// or nearest first when dq.Near is set. The bounding box is a coarse
// prefilter over the stored coordinates.
func (r *Repo) ListCandidates(ctx context.Context, dq domain.DonorQuery) ([]domain.Donor, error) {
	if len(dq.BloodTypeIDs) == 0 {
		return []domain.Donor{}, nil
	}

	located := sq.And{sq.NotEq{"lat": nil}}
	if dq.Box != nil {
		located = append(located,
			sq.GtOrEq{"lat": dq.Box.MinLat}, sq.LtOrEq{"lat": dq.Box.MaxLat},
			sq.GtOrEq{"lng": dq.Box.MinLng}, sq.LtOrEq{"lng": dq.Box.MaxLng},
		)
	}
	var where sq.Sqlizer = located
	if dq.IncludeUnlocated {
		where = sq.Or{sq.Eq{"lat": nil}, located}
	}

	builder := postgres.Builder().
		Select(donorColumns...).
		From("donors").
		Where(sq.Eq{"blood_type_id": dq.BloodTypeIDs}).
		Where(where)
	if dq.Near != nil {
		lat, lng, kx := dq.Near.Lat, dq.Near.Lng, domain.LngScale(*dq.Near)
		builder = builder.OrderByClause(
			"lat IS NULL, (lat - ?) * (lat - ?) + ((lng - ?) * ?) * ((lng - ?) * ?)",
			lat, lat, lng, kx, lng, kx,
		)
	}
	builder = builder.OrderBy("id")
	if dq.Limit > 0 {
		builder = builder.Limit(uint64(dq.Limit))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}

	q := postgres.QuerierFromCtx(ctx, r.pool)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list donor candidates: %w", err)
	}
	donors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Donor, error) {
		return scanDonor(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan donor candidates: %w", err)
	}

	if err := loadDetails(ctx, q, donors); err != nil {
		return nil, err
	}
	return donors, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Create inserts a donor with its conditions, availability and recovery
// dates. A second profile for the same user is domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, d *domain.Donor) (*domain.Donor, error) {
	err := postgres.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.pool)

		var lat, lng *float64
		if d.Location != nil {
			lat, lng = &d.Location.Lat, &d.Location.Lng
		}
		_, err := q.Exec(ctx, insertDonorSQL,
			d.ID, d.UserID, d.BloodTypeID, lat, lng, d.LocationUpdatedAt,
			d.TravelRadiusKm, d.IsReady, d.ReadyUpdatedAt, d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return postgres.MapError(err, "donor", d.ID)
		}

		ids := make([]int, len(d.Conditions))
		for i, c := range d.Conditions {
			ids[i] = c.ID
		}
		if err := replaceConditions(ctx, q, d.ID, ids); err != nil {
			return err
		}
		if err := replaceAvailability(ctx, q, d.ID, d.Availability); err != nil {
			return err
		}
		for componentID, date := range d.NextEligible {
			if _, err := q.Exec(ctx, upsertRecoverySQL, d.ID, componentID, date); err != nil {
				return postgres.MapError(err, "donor recovery", d.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, d.ID)
}

// UpdateLocation stores a fresh location. A non-positive radiusKm keeps the
// current travel radius.
func (r *Repo) UpdateLocation(ctx context.Context, id uuid.UUID, loc domain.GeoPoint, radiusKm float64, at time.Time) (*domain.Donor, error) {
	return r.exec(ctx, id, updateLocationSQL, id, loc.Lat, loc.Lng, at, radiusKm)
}

func (r *Repo) SetReadiness(ctx context.Context, id uuid.UUID, ready bool, at time.Time) (*domain.Donor, error) {
	return r.exec(ctx, id, setReadinessSQL, id, ready, at)
}

// SetAvailability replaces all availability windows.
func (r *Repo) SetAvailability(ctx context.Context, id uuid.UUID, windows []domain.AvailabilityWindow, at time.Time) (*domain.Donor, error) {
	err := postgres.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.pool)
		if err := touch(ctx, q, id, at); err != nil {
			return err
		}
		return replaceAvailability(ctx, q, id, windows)
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetConditions replaces all health conditions. An unknown condition ID is
// domain.ErrNotFound.
func (r *Repo) SetConditions(ctx context.Context, id uuid.UUID, conditionIDs []int, at time.Time) (*domain.Donor, error) {
	err := postgres.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.pool)
		if err := touch(ctx, q, id, at); err != nil {
			return err
		}
		return replaceConditions(ctx, q, id, conditionIDs)
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *Repo) CreateDonation(ctx context.Context, dn *domain.Donation) (*domain.Donation, error) {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, insertDonationSQL,
		dn.ID, dn.DonorID, dn.ComponentID, dn.DonatedAt, dn.VolumeML, dn.CreatedAt,
	)
	if err != nil {
		return nil, postgres.MapError(err, "donation", dn.ID)
	}
	out := *dn
	return &out, nil
}

// SetNextEligible stores the recovery date of one component. A later date
// never gets overwritten by an earlier one.
func (r *Repo) SetNextEligible(ctx context.Context, donorID uuid.UUID, componentID int, date time.Time) error {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, upsertRecoverySQL, donorID, componentID, date)
	return postgres.MapError(err, "donor", donorID)
}

func (r *Repo) exec(ctx context.Context, id uuid.UUID, sql string, args ...any) (*domain.Donor, error) {
	tag, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return nil, postgres.MapError(err, "donor", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

func touch(ctx context.Context, q postgres.Querier, id uuid.UUID, at time.Time) error {
	tag, err := q.Exec(ctx, touchDonorSQL, id, at)
	if err != nil {
		return postgres.MapError(err, "donor", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("donor %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func replaceConditions(ctx context.Context, q postgres.Querier, id uuid.UUID, conditionIDs []int) error {
	if _, err := q.Exec(ctx, `DELETE FROM donor_conditions WHERE donor_id = $1`, id); err != nil {
		return fmt.Errorf("clear donor conditions: %w", err)
	}
	if len(conditionIDs) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, insertConditionsSQL, id, conditionIDs); err != nil {
		return postgres.MapError(err, "health condition", conditionIDs)
	}
	return nil
}

func replaceAvailability(ctx context.Context, q postgres.Querier, id uuid.UUID, windows []domain.AvailabilityWindow) error {
	if _, err := q.Exec(ctx, `DELETE FROM donor_availability WHERE donor_id = $1`, id); err != nil {
		return fmt.Errorf("clear donor availability: %w", err)
	}
	if len(windows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, w := range windows {
		batch.Queue(insertAvailabilitySQL, id, int(w.Weekday), w.StartMinute, w.EndMinute)
	}
	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for range windows {
		if _, err := br.Exec(); err != nil {
			return postgres.MapError(err, "donor availability", id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

func scanDonor(row pgx.Row) (domain.Donor, error) {
	var (
		d        domain.Donor
		lat, lng *float64
	)
	err := row.Scan(&d.ID, &d.UserID, &d.BloodTypeID, &lat, &lng, &d.LocationUpdatedAt,
		&d.TravelRadiusKm, &d.IsReady, &d.ReadyUpdatedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Donor{}, err
	}
	if lat != nil && lng != nil {
		d.Location = &domain.GeoPoint{Lat: *lat, Lng: *lng}
	}
	return d, nil
}

// loadDetails fills conditions, availability and recovery dates for all
// donors with one query per child table.
func loadDetails(ctx context.Context, q postgres.Querier, donors []domain.Donor) error {
	if len(donors) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(donors))
	index := make(map[uuid.UUID]int, len(donors))
	for i, d := range donors {
		ids[i] = d.ID
		index[d.ID] = i
	}

	rows, err := q.Query(ctx, conditionsByDonorsSQL, ids)
	if err != nil {
		return fmt.Errorf("load donor conditions: %w", err)
	}
	err = forEachRow(rows, func(row pgx.Rows) error {
		var (
			donorID uuid.UUID
			c       domain.HealthCondition
		)
		if err := row.Scan(&donorID, &c.ID, &c.Code, &c.Name, &c.DonationIneligible); err != nil {
			return err
		}
		d := &donors[index[donorID]]
		d.Conditions = append(d.Conditions, c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan donor conditions: %w", err)
	}

	rows, err = q.Query(ctx, availabilityByDonorsSQL, ids)
	if err != nil {
		return fmt.Errorf("load donor availability: %w", err)
	}
	err = forEachRow(rows, func(row pgx.Rows) error {
		var (
			donorID uuid.UUID
			weekday int
			w       domain.AvailabilityWindow
		)
		if err := row.Scan(&donorID, &weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return err
		}
		w.Weekday = time.Weekday(weekday)
		d := &donors[index[donorID]]
		d.Availability = append(d.Availability, w)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan donor availability: %w", err)
	}

	rows, err = q.Query(ctx, recoveryByDonorsSQL, ids)
	if err != nil {
		return fmt.Errorf("load donor recovery: %w", err)
	}
	err = forEachRow(rows, func(row pgx.Rows) error {
		var (
			donorID     uuid.UUID
			componentID int
			date        time.Time
		)
		if err := row.Scan(&donorID, &componentID, &date); err != nil {
			return err
		}
		d := &donors[index[donorID]]
		if d.NextEligible == nil {
			d.NextEligible = make(map[int]time.Time)
		}
		d.NextEligible[componentID] = date.UTC()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan donor recovery: %w", err)
	}
	return nil
}

func forEachRow(rows pgx.Rows, fn func(pgx.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
