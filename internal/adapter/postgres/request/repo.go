// Package request implements the clinical request repository using PostgreSQL.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Repo provides request persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new request repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

var requestColumns = []string{
	"id", "requester_id", "urgency", "blood_type_id", "component_id", "quantity_units", "need_before",
	"delivery_lat", "delivery_lng", "clinical_notes", "status", "sla_deadline", "sla_warned_at",
	"sla_breached_at", "closed_at", "created_at", "updated_at",
}

const insertRequestSQL = `
INSERT INTO requests (id, requester_id, urgency, blood_type_id, component_id, quantity_units, need_before,
                      delivery_lat, delivery_lng, clinical_notes, status, sla_deadline, sla_warned_at,
                      sla_breached_at, closed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

const transitionSQL = `
UPDATE requests
SET status = $3,
    updated_at = $4,
    closed_at = CASE WHEN $5::boolean THEN $4 ELSE closed_at END
WHERE id = $1 AND status = ANY($2::text[])
RETURNING id, requester_id, urgency, blood_type_id, component_id, quantity_units, need_before,
          delivery_lat, delivery_lng, clinical_notes, status, sla_deadline, sla_warned_at,
          sla_breached_at, closed_at, created_at, updated_at`

const markSLAWarnedSQL = `
UPDATE requests SET sla_warned_at = $2, updated_at = $2
WHERE id = $1 AND sla_warned_at IS NULL`

const markSLABreachedSQL = `
UPDATE requests SET sla_breached_at = $2, updated_at = $2
WHERE id = $1 AND sla_breached_at IS NULL`

const existsSQL = `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	sql, args, err := selectRequests().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build request query: %w", err)
	}
	req, err := scanRequest(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, postgres.MapError(err, "request", id)
	}
	return &req, nil
}

// List returns requests newest first.
func (r *Repo) List(ctx context.Context, f domain.RequestFilter) ([]domain.Request, error) {
	builder := selectRequests().OrderBy("created_at DESC", "id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if f.Urgency != nil {
		builder = builder.Where(sq.Eq{"urgency": string(*f.Urgency)})
	}
	if f.RequesterID != nil {
		builder = builder.Where(sq.Eq{"requester_id": *f.RequesterID})
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		builder = builder.Offset(uint64(f.Offset))
	}
	return r.query(ctx, builder)
}

// ListOverdue returns open requests whose NeedBefore is at or before now.
func (r *Repo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Request, error) {
	builder := selectRequests().
		Where(openStatuses()).
		Where(sq.LtOrEq{"need_before": now}).
		OrderBy("need_before")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.query(ctx, builder)
}

// ListSLAPending returns open requests that have not yet signalled both a
// warning and a breach, earliest deadline first.
func (r *Repo) ListSLAPending(ctx context.Context, limit int) ([]domain.Request, error) {
	builder := selectRequests().
		Where(openStatuses()).
		Where(sq.Or{sq.Eq{"sla_warned_at": nil}, sq.Eq{"sla_breached_at": nil}}).
		OrderBy("sla_deadline")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.query(ctx, builder)
}

func (r *Repo) query(ctx context.Context, builder sq.SelectBuilder) ([]domain.Request, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build request query: %w", err)
	}
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Request, error) {
		return scanRequest(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

func (r *Repo) Create(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	_, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, insertRequestSQL,
		req.ID, req.RequesterID, string(req.Urgency), req.BloodTypeID, req.ComponentID, req.QuantityUnits, req.NeedBefore,
		req.DeliveryLocation.Lat, req.DeliveryLocation.Lng, req.ClinicalNotes, string(req.Status), req.SLADeadline, req.SLAWarnedAt,
		req.SLABreachedAt, req.ClosedAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, postgres.MapError(err, "request", req.ID)
	}
	return r.GetByID(ctx, req.ID)
}

// Transition moves a request from one of the given statuses to to. Moving
// into a terminal status stamps ClosedAt.
func (r *Repo) Transition(ctx context.Context, id uuid.UUID, from []domain.RequestStatus, to domain.RequestStatus, at time.Time) (*domain.Request, error) {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	q := postgres.QuerierFromCtx(ctx, r.pool)
	req, err := scanRequest(q.QueryRow(ctx, transitionSQL, id, expected, string(to), at, to.IsTerminal()))
	if err == nil {
		return &req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, postgres.MapError(err, "request", id)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &domain.TransitionError{Entity: "request", ID: id.String(), Expected: expected, Actual: cur.Status.String()}
}

// MarkSLAWarned stamps SLAWarnedAt once. It reports whether this call set it.
func (r *Repo) MarkSLAWarned(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, markSLAWarnedSQL, at)
}

// MarkSLABreached stamps SLABreachedAt once. It reports whether this call set it.
func (r *Repo) MarkSLABreached(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, markSLABreachedSQL, at)
}

func (r *Repo) stampOnce(ctx context.Context, id uuid.UUID, sql string, at time.Time) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, sql, id, at)
	if err != nil {
		return false, postgres.MapError(err, "request", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, existsSQL, id).Scan(&exists); err != nil {
		return false, postgres.MapError(err, "request", id)
	}
	if !exists {
		return false, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func selectRequests() sq.SelectBuilder {
	return postgres.Builder().Select(requestColumns...).From("requests")
}

func openStatuses() sq.Eq {
	open := domain.OpenRequestStatuses()
	statuses := make([]string, len(open))
	for i, s := range open {
		statuses[i] = string(s)
	}
	return sq.Eq{"status": statuses}
}

func scanRequest(row pgx.Row) (domain.Request, error) {
	var (
		req             domain.Request
		urgency, status string
	)
	err := row.Scan(&req.ID, &req.RequesterID, &urgency, &req.BloodTypeID, &req.ComponentID, &req.QuantityUnits, &req.NeedBefore,
		&req.DeliveryLocation.Lat, &req.DeliveryLocation.Lng, &req.ClinicalNotes, &status, &req.SLADeadline, &req.SLAWarnedAt,
		&req.SLABreachedAt, &req.ClosedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return domain.Request{}, err
	}
	req.Urgency = domain.Urgency(urgency)
	req.Status = domain.RequestStatus(status)
	return req, nil
}
