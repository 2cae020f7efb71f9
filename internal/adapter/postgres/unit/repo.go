// Package unit implements the inventory unit repository using PostgreSQL.
// Every status change is a single conditional UPDATE so concurrent
// allocators can never claim the same unit twice.
package unit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Repo provides inventory persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new unit repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

var unitColumns = []string{
	"id", "donation_id", "blood_type_id", "component_id", "volume_ml", "collected_at", "expires_at",
	"status", "reserved_for_request_id", "reserved_at", "issued_for_request_id", "created_at", "updated_at",
}

const returningUnit = `
RETURNING id, donation_id, blood_type_id, component_id, volume_ml, collected_at, expires_at,
          status, reserved_for_request_id, reserved_at, issued_for_request_id, created_at, updated_at`

const insertUnitSQL = `
INSERT INTO inventory_units (id, donation_id, blood_type_id, component_id, volume_ml, collected_at, expires_at,
                             status, reserved_for_request_id, reserved_at, issued_for_request_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

var reserveSQL = `
UPDATE inventory_units
SET status = 'RESERVED', reserved_for_request_id = $2, reserved_at = $3, updated_at = $3
WHERE id = $1 AND status = 'AVAILABLE' AND expires_at > $3
  AND EXISTS (` + postgres.OpenRequestLock("$2") + `)` + returningUnit

const releaseSQL = `
UPDATE inventory_units
SET status = 'AVAILABLE', reserved_for_request_id = NULL, reserved_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'RESERVED'` + returningUnit

const issueSQL = `
UPDATE inventory_units
SET status = 'ISSUED', issued_for_request_id = $2, reserved_for_request_id = NULL, updated_at = $3
WHERE id = $1 AND status = 'RESERVED' AND reserved_for_request_id = $2 AND expires_at > $3` + returningUnit

const clearQuarantineSQL = `
UPDATE inventory_units
SET status = 'AVAILABLE', updated_at = $2
WHERE id = $1 AND status = 'QUARANTINE'` + returningUnit

const countByRequestSQL = `
SELECT count(*) FILTER (WHERE status = 'RESERVED'),
       count(*) FILTER (WHERE status = 'ISSUED')
FROM inventory_units
WHERE (status = 'RESERVED' AND reserved_for_request_id = $1)
   OR (status = 'ISSUED' AND issued_for_request_id = $1)`

const expireDueSQL = `
WITH due AS (
    SELECT id, reserved_for_request_id
    FROM inventory_units
    WHERE status IN ('AVAILABLE', 'RESERVED') AND expires_at <= $1
    FOR UPDATE SKIP LOCKED
)
UPDATE inventory_units u
SET status = 'EXPIRED', reserved_for_request_id = NULL, reserved_at = NULL, updated_at = $1
FROM due
WHERE u.id = due.id
RETURNING u.id, due.reserved_for_request_id`

const releaseStaleSQL = `
WITH stale AS (
    SELECT id, reserved_for_request_id
    FROM inventory_units
    WHERE status = 'RESERVED' AND reserved_at < $1
    FOR UPDATE SKIP LOCKED
)
UPDATE inventory_units u
SET status = 'AVAILABLE', reserved_for_request_id = NULL, reserved_at = NULL, updated_at = $2
FROM stale
WHERE u.id = stale.id
RETURNING u.id, stale.reserved_for_request_id`

const releaseForRequestSQL = `
UPDATE inventory_units
SET status = 'AVAILABLE', reserved_for_request_id = NULL, reserved_at = NULL, updated_at = $2
WHERE status = 'RESERVED' AND reserved_for_request_id = $1
RETURNING id`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.InventoryUnit, error) {
	sql, args, err := postgres.Builder().Select(unitColumns...).From("inventory_units").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unit query: %w", err)
	}
	u, err := scanUnit(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, postgres.MapError(err, "unit", id)
	}
	return &u, nil
}

// FindCandidates returns allocatable units, soonest expiry first.
func (r *Repo) FindCandidates(ctx context.Context, q domain.UnitQuery) ([]domain.InventoryUnit, error) {
	if len(q.BloodTypeIDs) == 0 {
		return []domain.InventoryUnit{}, nil
	}

	builder := postgres.Builder().
		Select(unitColumns...).
		From("inventory_units").
		Where(sq.Eq{
			"status":        string(domain.UnitStatusAvailable),
			"component_id":  q.ComponentID,
			"blood_type_id": q.BloodTypeIDs,
		}).
		Where(sq.Gt{"expires_at": q.Now}).
		OrderBy("expires_at", "id")
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	return r.query(ctx, builder)
}

// ListByRequest returns units reserved for or issued to requestID.
func (r *Repo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.InventoryUnit, error) {
	builder := postgres.Builder().
		Select(unitColumns...).
		From("inventory_units").
		Where(sq.Or{
			sq.Eq{"reserved_for_request_id": requestID},
			sq.Eq{"issued_for_request_id": requestID},
		}).
		OrderBy("id")
	return r.query(ctx, builder)
}

func (r *Repo) CountByRequest(ctx context.Context, requestID uuid.UUID) (domain.UnitCounts, error) {
	var c domain.UnitCounts
	err := postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, countByRequestSQL, requestID).Scan(&c.Reserved, &c.Issued)
	if err != nil {
		return domain.UnitCounts{}, fmt.Errorf("count units for request %s: %w", requestID, err)
	}
	return c, nil
}

func (r *Repo) query(ctx context.Context, builder sq.SelectBuilder) ([]domain.InventoryUnit, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unit query: %w", err)
	}
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.InventoryUnit, error) {
		return scanUnit(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan units: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

func (r *Repo) Create(ctx context.Context, u *domain.InventoryUnit) (*domain.InventoryUnit, error) {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, insertUnitSQL,
		u.ID, u.DonationID, u.BloodTypeID, u.ComponentID, u.VolumeML, u.CollectedAt, u.ExpiresAt,
		string(u.Status), u.ReservedForRequestID, u.ReservedAt, u.IssuedForRequestID, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return nil, postgres.MapError(err, "unit", u.ID)
	}
	out := *u
	return &out, nil
}

// Reserve moves an unexpired AVAILABLE unit to RESERVED for requestID. The
// request row is share-locked for the update, so a reservation never lands
// on a request that a concurrent close-out has already closed.
func (r *Repo) Reserve(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	u, err := r.transition(ctx, unitID, domain.UnitStatusAvailable, at, reserveSQL, unitID, requestID, at)
	var te *domain.TransitionError
	if errors.As(err, &te) && te.Entity == "unit" && te.Actual == "" {
		// The unit was reservable, so the request guard refused the update.
		return nil, postgres.ClosedRequestError(ctx, postgres.QuerierFromCtx(ctx, r.pool), requestID)
	}
	return u, err
}

func (r *Repo) Release(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusReserved, time.Time{}, releaseSQL, unitID, at)
}

// Issue moves a unit RESERVED for requestID to ISSUED. Expired units are refused.
func (r *Repo) Issue(ctx context.Context, unitID, requestID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	u, err := r.transition(ctx, unitID, domain.UnitStatusReserved, at, issueSQL, unitID, requestID, at)
	var te *domain.TransitionError
	if errors.As(err, &te) && te.Actual == "" {
		// Reserved and unexpired, so the reservation belongs to someone else.
		te.Expected = []string{"RESERVED for request " + requestID.String()}
		te.Actual = "RESERVED for another request"
	}
	return u, err
}

func (r *Repo) ClearQuarantine(ctx context.Context, unitID uuid.UUID, at time.Time) (*domain.InventoryUnit, error) {
	return r.transition(ctx, unitID, domain.UnitStatusQuarantine, time.Time{}, clearQuarantineSQL, unitID, at)
}

// ExpireDue marks AVAILABLE and RESERVED units past their expiry as EXPIRED
// and reports the reservations that were lost.
func (r *Repo) ExpireDue(ctx context.Context, now time.Time) (int, []domain.LostReservation, error) {
	return r.sweep(ctx, expireDueSQL, domain.LostReasonUnitExpired, now)
}

// ReleaseStale returns RESERVED units held since before cutoff to AVAILABLE.
func (r *Repo) ReleaseStale(ctx context.Context, cutoff, now time.Time) ([]domain.LostReservation, error) {
	_, lost, err := r.sweep(ctx, releaseStaleSQL, domain.LostReasonHoldTimeout, cutoff, now)
	return lost, err
}

func (r *Repo) sweep(ctx context.Context, sql, reason string, args ...any) (int, []domain.LostReservation, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("sweep units: %w", err)
	}
	defer rows.Close()

	var (
		n    int
		lost []domain.LostReservation
	)
	for rows.Next() {
		var (
			unitID    uuid.UUID
			requestID *uuid.UUID
		)
		if err := rows.Scan(&unitID, &requestID); err != nil {
			return 0, nil, fmt.Errorf("scan swept unit: %w", err)
		}
		n++
		if requestID != nil {
			lost = append(lost, domain.LostReservation{UnitID: unitID, RequestID: *requestID, Reason: reason})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate swept units: %w", err)
	}

	sort.Slice(lost, func(i, j int) bool { return lost[i].UnitID.String() < lost[j].UnitID.String() })
	return n, lost, nil
}

// ReleaseForRequest releases every unit still reserved for requestID.
func (r *Repo) ReleaseForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, releaseForRequestSQL, requestID, at)
	if err != nil {
		return nil, fmt.Errorf("release units for request %s: %w", requestID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan released units: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// transition runs a conditional UPDATE ... RETURNING. When no row changed it
// reloads the unit to report why: missing, wrong status, or expired at
// notExpiredAt. A unit that passes all three comes back as a TransitionError
// with an empty Actual for the caller to refine.
func (r *Repo) transition(ctx context.Context, id uuid.UUID, from domain.UnitStatus, notExpiredAt time.Time, sql string, args ...any) (*domain.InventoryUnit, error) {
	u, err := scanUnit(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, postgres.MapConflict(err, "unit", id)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	te := &domain.TransitionError{Entity: "unit", ID: id.String(), Expected: []string{from.String()}}
	switch {
	case cur.Status != from:
		te.Actual = cur.Status.String()
	case !notExpiredAt.IsZero() && cur.IsExpired(notExpiredAt):
		te.Actual = "expired"
	}
	return nil, te
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

func scanUnit(row pgx.Row) (domain.InventoryUnit, error) {
	var (
		u      domain.InventoryUnit
		status string
	)
	err := row.Scan(&u.ID, &u.DonationID, &u.BloodTypeID, &u.ComponentID, &u.VolumeML, &u.CollectedAt, &u.ExpiresAt,
		&status, &u.ReservedForRequestID, &u.ReservedAt, &u.IssuedForRequestID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.InventoryUnit{}, err
	}
	u.Status = domain.UnitStatus(status)
	return u, nil
}
