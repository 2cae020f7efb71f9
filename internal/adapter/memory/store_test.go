package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/memory/memtest"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

var origin = domain.GeoPoint{Lat: 52.52, Lng: 13.40}

func TestRunInTx_RollbackDiscardsChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)
	unit := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, time.Now().Add(72*time.Hour))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.Units().Reserve(ctx, unit.ID, req.ID, time.Now()); err != nil {
			return err
		}
		if _, err := s.Requests().Transition(ctx, req.ID, domain.OpenRequestStatuses(), domain.RequestStatusCancelled, time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	gotUnit, err := s.Units().GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, gotUnit.Status)
	assert.Nil(t, gotUnit.ReservedForRequestID)

	gotReq, err := s.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusRequested, gotReq.Status)
}

func TestRunInTx_CommitAppliesChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.Requests().Transition(ctx, req.ID, []domain.RequestStatus{domain.RequestStatusRequested}, domain.RequestStatusMatching, time.Now())
		return err
	})
	require.NoError(t, err)

	got, err := s.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusMatching, got.Status)
	assert.Nil(t, got.ClosedAt)
}

func TestUnits_ConcurrentReserveHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	unit := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, time.Now().Add(72*time.Hour))

	const racers = 16
	reqs := make([]*domain.Request, racers)
	for i := range reqs {
		reqs[i] = memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyEmergency, origin)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Units().Reserve(ctx, unit.ID, reqs[i].ID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestUnits_ReserveRefusedOnClosedRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	unit := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, time.Now().Add(72*time.Hour))
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)

	_, err := s.Requests().Transition(ctx, req.ID, domain.OpenRequestStatuses(), domain.RequestStatusCancelled, time.Now())
	require.NoError(t, err)

	_, err = s.Units().Reserve(ctx, unit.ID, req.ID, time.Now())
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.Units().GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)

	_, err = s.Units().Reserve(ctx, unit.ID, uuid.New(), time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnits_ExpiredUnitIsNeverAllocatable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	now := time.Now().UTC()
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)
	expired := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, now.Add(-time.Minute))

	cands, err := s.Units().FindCandidates(ctx, domain.UnitQuery{BloodTypeIDs: []int{memtest.ONeg}, ComponentID: memtest.RBC, Now: now})
	require.NoError(t, err)
	assert.Empty(t, cands)

	_, err = s.Units().Reserve(ctx, expired.ID, req.ID, now)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "expired", te.Actual)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUnits_ExpireDueReportsLostReservations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	now := time.Now().UTC()
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 2, domain.UrgencyUrgent, origin)

	reserved := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, now.Add(time.Hour))
	free := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, now.Add(time.Hour))
	fresh := memtest.SeedUnit(t, s, memtest.ONeg, memtest.RBC, now.Add(48*time.Hour))

	_, err := s.Units().Reserve(ctx, reserved.ID, req.ID, now)
	require.NoError(t, err)

	n, lost, err := s.Units().ExpireDue(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, lost, 1)
	assert.Equal(t, domain.LostReservation{UnitID: reserved.ID, RequestID: req.ID, Reason: domain.LostReasonUnitExpired}, lost[0])

	for id, want := range map[uuid.UUID]domain.UnitStatus{
		reserved.ID: domain.UnitStatusExpired,
		free.ID:     domain.UnitStatusExpired,
		fresh.ID:    domain.UnitStatusAvailable,
	} {
		got, err := s.Units().GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "unit %s", id)
	}
}

func TestMatches_OneOpenMatchPerDonor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	donor := memtest.SeedDonor(t, s, memtest.ONeg)
	r1 := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)
	r2 := memtest.SeedRequest(t, s, memtest.BPos, memtest.RBC, 1, domain.UrgencyUrgent, origin)

	now := time.Now().UTC()
	m := &domain.Match{ID: uuid.New(), RequestID: r1.ID, DonorID: donor.ID, Status: domain.MatchStatusProposed, ProposedAt: now, StatusChangedAt: now}
	_, err := s.Matches().Create(ctx, m)
	require.NoError(t, err)

	other := &domain.Match{ID: uuid.New(), RequestID: r2.ID, DonorID: donor.ID, Status: domain.MatchStatusProposed, ProposedAt: now, StatusChangedAt: now}
	_, err = s.Matches().Create(ctx, other)
	assert.ErrorIs(t, err, domain.ErrConflict)

	expired, err := s.Matches().ExpireStale(ctx, now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	_, err = s.Matches().Create(ctx, other)
	assert.NoError(t, err, "expired match must free the donor")
}

func TestMatches_CreateRefusedOnClosedRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	donor := memtest.SeedDonor(t, s, memtest.ONeg)
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)
	now := time.Now().UTC()

	_, err := s.Requests().Transition(ctx, req.ID, domain.OpenRequestStatuses(), domain.RequestStatusFulfilled, now)
	require.NoError(t, err)

	_, err = s.Matches().Create(ctx, &domain.Match{ID: uuid.New(), RequestID: req.ID, DonorID: donor.ID, Status: domain.MatchStatusProposed, ProposedAt: now, StatusChangedAt: now})
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)

	open, err := s.Matches().OpenByDonors(ctx, []uuid.UUID{donor.ID})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDonors_ListCandidatesNearestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	far := memtest.SeedDonor(t, s, memtest.ONeg, memtest.At(memtest.PointNorth(origin, 9)))
	near := memtest.SeedDonor(t, s, memtest.ONeg, memtest.At(memtest.PointNorth(origin, 2)))
	unlocated := memtest.SeedDonor(t, s, memtest.ONeg)

	box := domain.BoundingBoxAround(origin, 10)
	got, err := s.Donors().ListCandidates(ctx, domain.DonorQuery{
		BloodTypeIDs:     []int{memtest.ONeg},
		Box:              &box,
		IncludeUnlocated: true,
		Near:             &origin,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{near.ID, far.ID, unlocated.ID}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.Donors().ListCandidates(ctx, domain.DonorQuery{
		BloodTypeIDs: []int{memtest.ONeg},
		Box:          &box,
		Near:         &origin,
		Limit:        1,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID, got[0].ID)
}

func TestMatches_ConditionalTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	donor := memtest.SeedDonor(t, s, memtest.ONeg)
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)
	now := time.Now().UTC()

	m, err := s.Matches().Create(ctx, &domain.Match{ID: uuid.New(), RequestID: req.ID, DonorID: donor.ID, Status: domain.MatchStatusProposed, ProposedAt: now, StatusChangedAt: now})
	require.NoError(t, err)

	_, err = s.Matches().RecordResponse(ctx, m.ID, domain.MatchResponseAccepted, now)
	assert.ErrorIs(t, err, domain.ErrConflict, "response before contact")

	_, err = s.Matches().MarkContacted(ctx, m.ID, now)
	require.NoError(t, err)
	_, err = s.Matches().MarkContacted(ctx, m.ID, now)
	assert.ErrorIs(t, err, domain.ErrConflict, "double contact")

	got, err := s.Matches().RecordResponse(ctx, m.ID, domain.MatchResponseAccepted, now)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusAccepted, got.Status)
	require.NotNil(t, got.DonorResponse)
	assert.Equal(t, domain.MatchResponseAccepted, *got.DonorResponse)

	_, err = s.Matches().MarkContacted(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequests_SLAStampsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memtest.NewStore(t)
	req := memtest.SeedRequest(t, s, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, origin)

	first, err := s.Requests().MarkSLAWarned(ctx, req.ID, time.Now())
	require.NoError(t, err)
	second, err := s.Requests().MarkSLAWarned(ctx, req.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}
