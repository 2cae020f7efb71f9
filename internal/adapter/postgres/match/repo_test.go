package match_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/match"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

func proposal(requestID, donorID uuid.UUID, rank int, km float64) *domain.Match {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Match{
		ID:                 uuid.New(),
		RequestID:          requestID,
		DonorID:            donorID,
		CompatibilityScore: domain.CompatibilityScore(rank, km),
		PriorityLevel:      rank,
		DistanceKm:         km,
		Status:             domain.MatchStatusProposed,
		ProposedAt:         now,
		StatusChangedAt:    now,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestRepo_Create_OneOpenMatchPerDonor(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := match.New(pool)
	ctx := context.Background()

	req1 := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	req2 := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	d := testhelper.SeedDonor(t, pool, testhelper.ONeg, nil)

	created, err := repo.Create(ctx, proposal(req1.ID, d.ID, 2, 8))
	require.NoError(t, err)

	_, err = repo.Create(ctx, proposal(req2.ID, d.ID, 2, 8))
	assert.ErrorIs(t, err, domain.ErrConflict, "donor already engaged")

	open, err := repo.OpenByDonors(ctx, []uuid.UUID{d.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]uuid.UUID{d.ID: req1.ID}, open)

	_, err = repo.ExpireOpenForRequest(ctx, req1.ID, time.Now())
	require.NoError(t, err)

	_, err = repo.Create(ctx, proposal(req2.ID, d.ID, 2, 8))
	require.NoError(t, err, "donor is free once the match expires")

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusExpired, got.Status)

	_, err = repo.Create(ctx, proposal(uuid.New(), d.ID, 1, 1))
	assert.ErrorIs(t, err, domain.ErrNotFound, "unknown request")
}

func TestRepo_Create_ClosedRequestRefused(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := match.New(pool)
	ctx := context.Background()

	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	d := testhelper.SeedDonor(t, pool, testhelper.ONeg, nil)
	testhelper.CloseRequest(t, pool, req.ID, domain.RequestStatusCancelled)

	_, err := repo.Create(ctx, proposal(req.ID, d.ID, 2, 8))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)

	open, err := repo.OpenByDonors(ctx, []uuid.UUID{d.ID})
	require.NoError(t, err)
	assert.Empty(t, open, "donor stays free")

	_, err = repo.Create(ctx, proposal(uuid.New(), d.ID, 2, 8))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_Create_ConcurrentProposalsOneWinner(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := match.New(pool)
	d := testhelper.SeedDonor(t, pool, testhelper.ONeg, nil)

	const n = 8
	reqs := make([]domain.Request, n)
	for i := range reqs {
		reqs[i] = testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Create(context.Background(), proposal(reqs[i].ID, d.ID, 2, 1)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRepo_Lifecycle(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := match.New(pool)
	ctx := context.Background()

	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 2)
	d1 := testhelper.SeedDonor(t, pool, testhelper.ONeg, nil)
	d2 := testhelper.SeedDonor(t, pool, testhelper.APos, nil)

	far, err := repo.Create(ctx, proposal(req.ID, d1.ID, 2, 3))
	require.NoError(t, err)
	best, err := repo.Create(ctx, proposal(req.ID, d2.ID, 1, 30))
	require.NoError(t, err)

	list, err := repo.ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, best.ID, list[0].ID, "priority dominates distance")

	_, err = repo.RecordResponse(ctx, far.ID, domain.MatchResponseAccepted, time.Now())
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "PROPOSED", te.Actual)
	assert.ErrorIs(t, err, domain.ErrConflict)

	at := time.Now().UTC().Truncate(time.Microsecond)
	contacted, err := repo.MarkContacted(ctx, far.ID, at)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusContacted, contacted.Status)
	require.NotNil(t, contacted.ContactedAt)
	assert.True(t, contacted.ContactedAt.Equal(at))

	_, err = repo.MarkContacted(ctx, far.ID, at)
	assert.ErrorIs(t, err, domain.ErrConflict, "already contacted")

	accepted, err := repo.RecordResponse(ctx, far.ID, domain.MatchResponseAccepted, at)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.DonorResponse)
	assert.Equal(t, domain.MatchResponseAccepted, *accepted.DonorResponse)

	counts, err := repo.CountByStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.MatchStatus]int{domain.MatchStatusAccepted: 1, domain.MatchStatusProposed: 1}, counts)

	pair, err := repo.ListByPair(ctx, req.ID, d1.ID)
	require.NoError(t, err)
	require.Len(t, pair, 1)

	expired, err := repo.ExpireOpenForRequest(ctx, req.ID, at)
	require.NoError(t, err)
	require.Len(t, expired, 1, "accepted matches are terminal")
	assert.Equal(t, best.ID, expired[0].ID)

	_, err = repo.MarkContacted(ctx, uuid.New(), at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_ExpireStale(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := match.New(pool)
	ctx := context.Background()

	past := time.Date(2001, 3, 1, 12, 0, 0, 0, time.UTC)
	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	stale := testhelper.SeedMatch(t, pool, req.ID, testhelper.SeedDonor(t, pool, testhelper.ONeg, nil).ID, past)
	fresh := testhelper.SeedMatch(t, pool, req.ID, testhelper.SeedDonor(t, pool, testhelper.ONeg, nil).ID, past.Add(2*time.Hour))

	expired, err := repo.ExpireStale(ctx, past.Add(time.Hour), time.Now())
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, m := range expired {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, stale.ID)
	assert.NotContains(t, ids, fresh.ID)

	got, err := repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusProposed, got.Status)
}
