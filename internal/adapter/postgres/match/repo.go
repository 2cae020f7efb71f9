// Package match implements the donor match repository using PostgreSQL.
// Status changes are conditional updates; a partial unique index keeps at
// most one open match per donor.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Repo provides match persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new match repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const matchColumns = `id, request_id, donor_id, compatibility_score, priority_level, distance_km,
       status, proposed_at, contacted_at, responded_at, donor_response, status_changed_at`

var insertMatchSQL = `
WITH open_request AS (` + postgres.OpenRequestLock("$2::uuid") + `)
INSERT INTO matches (id, request_id, donor_id, compatibility_score, priority_level, distance_km,
                     status, proposed_at, contacted_at, responded_at, donor_response, status_changed_at)
SELECT $1::uuid, $2::uuid, $3::uuid, $4::double precision, $5::integer, $6::double precision,
       $7::text, $8::timestamptz, $9::timestamptz, $10::timestamptz, $11::text, $12::timestamptz
FROM open_request`

const getMatchSQL = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

const listByRequestSQL = `
SELECT ` + matchColumns + `
FROM matches
WHERE request_id = $1
ORDER BY compatibility_score, id`

const listByPairSQL = `
SELECT ` + matchColumns + `
FROM matches
WHERE request_id = $1 AND donor_id = $2
ORDER BY compatibility_score, id`

const openByDonorsSQL = `
SELECT donor_id, request_id
FROM matches
WHERE donor_id = ANY($1::uuid[]) AND status IN ('PROPOSED', 'CONTACTED')`

const countByStatusSQL = `
SELECT status, count(*)
FROM matches
WHERE request_id = $1
GROUP BY status`

const markContactedSQL = `
UPDATE matches
SET status = 'CONTACTED', contacted_at = $2, status_changed_at = $2
WHERE id = $1 AND status = 'PROPOSED'
RETURNING ` + matchColumns

const recordResponseSQL = `
UPDATE matches
SET status = $2, donor_response = $3, responded_at = $4, status_changed_at = $4
WHERE id = $1 AND status = 'CONTACTED'
RETURNING ` + matchColumns

const expireStaleSQL = `
UPDATE matches
SET status = 'EXPIRED', status_changed_at = $2
WHERE status IN ('PROPOSED', 'CONTACTED') AND status_changed_at < $1
RETURNING ` + matchColumns

const expireForRequestSQL = `
UPDATE matches
SET status = 'EXPIRED', status_changed_at = $2
WHERE status IN ('PROPOSED', 'CONTACTED') AND request_id = $1
RETURNING ` + matchColumns

const statusSQL = `SELECT status FROM matches WHERE id = $1`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	m, err := scanMatch(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, getMatchSQL, id))
	if err != nil {
		return nil, postgres.MapError(err, "match", id)
	}
	return &m, nil
}

// ListByRequest returns matches best score first.
func (r *Repo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Match, error) {
	return r.list(ctx, listByRequestSQL, requestID)
}

func (r *Repo) ListByPair(ctx context.Context, requestID, donorID uuid.UUID) ([]domain.Match, error) {
	return r.list(ctx, listByPairSQL, requestID, donorID)
}

// OpenByDonors maps each given donor holding an open match to that match's request.
func (r *Repo) OpenByDonors(ctx context.Context, donorIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	if len(donorIDs) == 0 {
		return out, nil
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, openByDonorsSQL, donorIDs)
	if err != nil {
		return nil, fmt.Errorf("open matches by donors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var donorID, requestID uuid.UUID
		if err := rows.Scan(&donorID, &requestID); err != nil {
			return nil, fmt.Errorf("scan open match: %w", err)
		}
		out[donorID] = requestID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open matches: %w", err)
	}
	return out, nil
}

func (r *Repo) CountByStatus(ctx context.Context, requestID uuid.UUID) (map[domain.MatchStatus]int, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, countByStatusSQL, requestID)
	if err != nil {
		return nil, fmt.Errorf("count matches by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.MatchStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[domain.MatchStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Create inserts a match while its request is open; the request row is
// share-locked for the insert. An open match for a donor that already holds
// one is domain.ErrConflict.
func (r *Repo) Create(ctx context.Context, m *domain.Match) (*domain.Match, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)
	tag, err := q.Exec(ctx, insertMatchSQL,
		m.ID, m.RequestID, m.DonorID, m.CompatibilityScore, m.PriorityLevel, m.DistanceKm,
		string(m.Status), m.ProposedAt, m.ContactedAt, m.RespondedAt, responseArg(m.DonorResponse), m.StatusChangedAt,
	)
	if err != nil {
		return nil, postgres.MapConflict(err, "match", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return nil, postgres.ClosedRequestError(ctx, q, m.RequestID)
	}
	out := *m
	return &out, nil
}

func (r *Repo) MarkContacted(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Match, error) {
	return r.transition(ctx, id, []domain.MatchStatus{domain.MatchStatusProposed}, markContactedSQL, id, at)
}

func (r *Repo) RecordResponse(ctx context.Context, id uuid.UUID, resp domain.MatchResponse, at time.Time) (*domain.Match, error) {
	return r.transition(ctx, id, []domain.MatchStatus{domain.MatchStatusContacted}, recordResponseSQL,
		id, string(resp.Status()), string(resp), at)
}

// ExpireStale expires open matches whose last transition is before cutoff.
func (r *Repo) ExpireStale(ctx context.Context, cutoff, at time.Time) ([]domain.Match, error) {
	return r.expire(ctx, expireStaleSQL, cutoff, at)
}

func (r *Repo) ExpireOpenForRequest(ctx context.Context, requestID uuid.UUID, at time.Time) ([]domain.Match, error) {
	return r.expire(ctx, expireForRequestSQL, requestID, at)
}

func (r *Repo) expire(ctx context.Context, sql string, args ...any) ([]domain.Match, error) {
	out, err := r.list(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("expire matches: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompatibilityScore != out[j].CompatibilityScore {
			return out[i].CompatibilityScore < out[j].CompatibilityScore
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// transition runs a conditional UPDATE ... RETURNING. When no row changed it
// tells a missing match apart from one in another status.
func (r *Repo) transition(ctx context.Context, id uuid.UUID, from []domain.MatchStatus, sql string, args ...any) (*domain.Match, error) {
	q := postgres.QuerierFromCtx(ctx, r.pool)

	m, err := scanMatch(q.QueryRow(ctx, sql, args...))
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, postgres.MapError(err, "match", id)
	}

	var status string
	if err := q.QueryRow(ctx, statusSQL, id).Scan(&status); err != nil {
		return nil, postgres.MapError(err, "match", id)
	}
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}
	return nil, &domain.TransitionError{Entity: "match", ID: id.String(), Expected: expected, Actual: status}
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]domain.Match, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Match, error) {
		return scanMatch(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan matches: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

func scanMatch(row pgx.Row) (domain.Match, error) {
	var (
		m        domain.Match
		status   string
		response *string
	)
	err := row.Scan(&m.ID, &m.RequestID, &m.DonorID, &m.CompatibilityScore, &m.PriorityLevel, &m.DistanceKm,
		&status, &m.ProposedAt, &m.ContactedAt, &m.RespondedAt, &response, &m.StatusChangedAt)
	if err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	if response != nil {
		resp := domain.MatchResponse(*response)
		m.DonorResponse = &resp
	}
	return m, nil
}

func responseArg(r *domain.MatchResponse) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}
