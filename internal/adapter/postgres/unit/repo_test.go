package unit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/postgres/unit"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// ---------------------------------------------------------------------------
// Create + FindCandidates
// ---------------------------------------------------------------------------

func TestRepo_Create_Quarantine(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	u, err := repo.Create(ctx, &domain.InventoryUnit{
		ID:          uuid.New(),
		BloodTypeID: testhelper.BNeg,
		ComponentID: testhelper.Platelets,
		VolumeML:    250,
		CollectedAt: now,
		ExpiresAt:   now.Add(5 * 24 * time.Hour),
		Status:      domain.UnitStatusQuarantine,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	cleared, err := repo.ClearQuarantine(ctx, u.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, cleared.Status)

	_, err = repo.ClearQuarantine(ctx, u.ID, now)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.Create(ctx, &domain.InventoryUnit{
		ID: uuid.New(), BloodTypeID: testhelper.BNeg, ComponentID: testhelper.Platelets, VolumeML: 250,
		CollectedAt: now, ExpiresAt: now.Add(-time.Hour), Status: domain.UnitStatusAvailable, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "expiry before collection")
}

func TestRepo_FindCandidates(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	// AB- platelets are used by no other test, so the result set is exact.
	later := testhelper.SeedUnit(t, pool, testhelper.ABNeg, testhelper.Platelets, now.Add(72*time.Hour))
	sooner := testhelper.SeedUnit(t, pool, testhelper.ABNeg, testhelper.Platelets, now.Add(24*time.Hour))
	testhelper.SeedUnit(t, pool, testhelper.ABNeg, testhelper.Platelets, now.Add(-time.Hour))
	testhelper.SeedUnit(t, pool, testhelper.ABNeg, testhelper.RBC, now.Add(24*time.Hour))

	got, err := repo.FindCandidates(ctx, domain.UnitQuery{
		BloodTypeIDs: []int{testhelper.ABNeg},
		ComponentID:  testhelper.Platelets,
		Now:          now,
	})
	require.NoError(t, err)
	ids := unitIDs(got)
	require.GreaterOrEqual(t, len(ids), 2)
	assert.Less(t, indexOf(ids, sooner.ID), indexOf(ids, later.ID), "soonest expiry first")
	for _, u := range got {
		assert.True(t, u.IsAllocatable(now))
		assert.Equal(t, testhelper.Platelets, u.ComponentID)
	}

	got, err = repo.FindCandidates(ctx, domain.UnitQuery{ComponentID: testhelper.Platelets, Now: now})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func unitIDs(units []domain.InventoryUnit) []uuid.UUID {
	out := make([]uuid.UUID, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}

func indexOf(ids []uuid.UUID, id uuid.UUID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Reserve / Issue / Release
// ---------------------------------------------------------------------------

func TestRepo_Reserve_ConcurrentOneWinner(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	u := testhelper.SeedUnit(t, pool, testhelper.OPos, testhelper.RBC, time.Now().Add(48*time.Hour))

	const n = 10
	reqs := make([]domain.Request, n)
	for i := range reqs {
		reqs[i] = testhelper.SeedRequest(t, pool, testhelper.OPos, testhelper.RBC, 1)
	}

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Reserve(context.Background(), u.ID, reqs[i].ID, time.Now())
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, domain.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
}

func TestRepo_ReserveIssueRelease(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 2)
	other := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	u1 := testhelper.SeedUnit(t, pool, testhelper.APos, testhelper.RBC, now.Add(48*time.Hour))
	u2 := testhelper.SeedUnit(t, pool, testhelper.APos, testhelper.RBC, now.Add(48*time.Hour))
	old := testhelper.SeedUnit(t, pool, testhelper.APos, testhelper.RBC, now.Add(-time.Minute))

	// A parallel ExpireDue may already have flipped it to EXPIRED.
	_, err := repo.Reserve(ctx, old.ID, req.ID, now)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, []string{"expired", "EXPIRED"}, te.Actual)

	reserved, err := repo.Reserve(ctx, u1.ID, req.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusReserved, reserved.Status)
	require.NotNil(t, reserved.ReservedForRequestID)
	assert.Equal(t, req.ID, *reserved.ReservedForRequestID)
	_, err = repo.Reserve(ctx, u2.ID, req.ID, now)
	require.NoError(t, err)

	_, err = repo.Issue(ctx, u1.ID, other.ID, now)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "RESERVED for another request", te.Actual)

	issued, err := repo.Issue(ctx, u1.ID, req.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusIssued, issued.Status)
	assert.Nil(t, issued.ReservedForRequestID)

	_, err = repo.Release(ctx, u1.ID, now)
	assert.ErrorIs(t, err, domain.ErrConflict, "issued is terminal")

	counts, err := repo.CountByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitCounts{Reserved: 1, Issued: 1}, counts)

	list, err := repo.ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	released, err := repo.ReleaseForRequest(ctx, req.ID, now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u2.ID}, released)

	got, err := repo.GetByID(ctx, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
	assert.Nil(t, got.ReservedAt)

	_, err = repo.Reserve(ctx, uuid.New(), req.ID, now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepo_Reserve_ClosedRequestRefused(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	u := testhelper.SeedUnit(t, pool, testhelper.APos, testhelper.RBC, now.Add(48*time.Hour))
	testhelper.CloseRequest(t, pool, req.ID, domain.RequestStatusCancelled)

	_, err := repo.Reserve(ctx, u.ID, req.ID, now)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
}

// A reservation racing a cancellation waits for it and then sees the
// request closed.
func TestRepo_Reserve_WaitsForCancellation(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testhelper.SeedRequest(t, pool, testhelper.APos, testhelper.RBC, 1)
	u := testhelper.SeedUnit(t, pool, testhelper.APos, testhelper.RBC, now.Add(48*time.Hour))

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck
	_, err = tx.Exec(ctx,
		`UPDATE requests SET status = 'CANCELLED', closed_at = $2, updated_at = $2 WHERE id = $1`, req.ID, now)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := repo.Reserve(ctx, u.ID, req.ID, now)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, tx.Commit(ctx))

	select {
	case err := <-done:
		assert.True(t, domain.IsClosedRequest(err), "got %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("reserve did not return after the cancellation committed")
	}

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
}

// ---------------------------------------------------------------------------
// Sweeps
// ---------------------------------------------------------------------------

func TestRepo_ExpireDue_ReportsLostReservations(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testhelper.SeedRequest(t, pool, testhelper.ANeg, testhelper.RBC, 1)
	held := testhelper.SeedUnit(t, pool, testhelper.ANeg, testhelper.RBC, now.Add(time.Minute))
	_, err := repo.Reserve(ctx, held.ID, req.ID, now)
	require.NoError(t, err)

	n, lost, err := repo.ExpireDue(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.Contains(t, lost, domain.LostReservation{UnitID: held.ID, RequestID: req.ID, Reason: domain.LostReasonUnitExpired})

	got, err := repo.GetByID(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusExpired, got.Status)
	assert.Nil(t, got.ReservedForRequestID)
}

func TestRepo_ReleaseStale(t *testing.T) {
	t.Parallel()
	pool := testhelper.SetupTestDB(t)
	repo := unit.New(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testhelper.SeedRequest(t, pool, testhelper.BPos, testhelper.RBC, 1)
	stale := testhelper.SeedUnit(t, pool, testhelper.BPos, testhelper.RBC, now.Add(72*time.Hour))
	fresh := testhelper.SeedUnit(t, pool, testhelper.BPos, testhelper.RBC, now.Add(72*time.Hour))

	reservedAt := time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.Reserve(ctx, stale.ID, req.ID, now)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE inventory_units SET reserved_at = $2 WHERE id = $1`, stale.ID, reservedAt)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, fresh.ID, req.ID, now)
	require.NoError(t, err)

	lost, err := repo.ReleaseStale(ctx, reservedAt.Add(time.Hour), now)
	require.NoError(t, err)
	assert.Contains(t, lost, domain.LostReservation{UnitID: stale.ID, RequestID: req.ID, Reason: domain.LostReasonHoldTimeout})
	for _, l := range lost {
		assert.NotEqual(t, fresh.ID, l.UnitID)
	}

	counts, err := repo.CountByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Reserved)
}
