package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/memory/memtest"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/provider/routing"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
	"github.com/heartmarshall/bloodlink-backend/internal/service/request"
)

var (
	discard  = slog.New(slog.NewTextHandler(io.Discard, nil))
	hospital = domain.GeoPoint{Lat: 52.52, Lng: 13.40}
)

func TestRunAt_AllPasses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memtest.NewStore(t)

	prox := proximity.NewEvaluator(discard, routing.Haversine{}, nil, proximity.Config{})
	match := matching.NewService(discard, store.Matches(), store.Donors(), prox, nil, nil, matching.Config{MatchHold: time.Hour})
	inv := inventory.NewService(discard, store.Units(), store.Reference(), nil, inventory.Config{})
	reqs := request.NewService(discard, request.Deps{
		Requests: store.Requests(),
		Ref:      store.Reference(),
		Rules:    compatibility.NewService(discard, store.Reference(), domain.PriorityOrderAsc),
		Matches:  match,
		Units:    inv,
		Tx:       store,
	}, request.Config{})

	now := time.Now().UTC()
	memtest.SeedUnit(t, store, memtest.APos, memtest.RBC, now.Add(time.Hour))
	memtest.SeedUnit(t, store, memtest.APos, memtest.RBC, now.Add(72*time.Hour))
	donor := memtest.SeedDonor(t, store, memtest.ONeg, memtest.At(hospital))
	req := memtest.SeedRequest(t, store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	_, err := reqs.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	_, err = reqs.ProposeMatch(ctx, req.ID, matching.ProposeInput{DonorID: donor.ID})
	require.NoError(t, err)

	sw := New(discard, match, inv, reqs, time.Minute)
	rep, err := sw.RunAt(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, Report{
		ExpiredMatches:   1,
		ExpiredUnits:     1,
		LostReservations: 1,
		SLAWarnings:      1,
		SLABreaches:      1,
	}, rep)

	units, err := reqs.ListUnits(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, units, 1, "lost reservation replaced")
	assert.Equal(t, domain.UnitStatusReserved, units[0].Status)

	rep, err = sw.RunAt(ctx, now.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ExpiredRequests)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeMatches struct {
	err   error
	calls atomic.Int32
}

func (f *fakeMatches) ExpireStale(context.Context, time.Time) ([]domain.Match, error) {
	f.calls.Add(1)
	return nil, f.err
}

type fakeUnits struct{ lost []domain.LostReservation }

func (f *fakeUnits) SweepExpired(context.Context, time.Time) (inventory.SweepResult, error) {
	return inventory.SweepResult{Lost: f.lost}, nil
}

type fakeRequests struct {
	routed   []domain.LostReservation
	overdue  int
	slaCalls int
}

func (f *fakeRequests) OnReservationLost(_ context.Context, lost []domain.LostReservation) error {
	f.routed = append(f.routed, lost...)
	return nil
}

func (f *fakeRequests) ExpireOverdue(context.Context, time.Time) (int, error) {
	return f.overdue, nil
}

func (f *fakeRequests) ScanSLA(context.Context, time.Time) (request.ScanResult, error) {
	f.slaCalls++
	return request.ScanResult{}, nil
}

func TestRunAt_FailingPassDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	lost := []domain.LostReservation{{Reason: domain.LostReasonHoldTimeout}}

	reqs := &fakeRequests{overdue: 2}
	sw := New(discard, &fakeMatches{err: boom}, &fakeUnits{lost: lost}, reqs, 0)

	rep, err := sw.RunAt(context.Background(), time.Now())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, rep.ExpiredRequests)
	assert.Equal(t, lost, reqs.routed)
	assert.Equal(t, 1, reqs.slaCalls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	matches := &fakeMatches{}
	sw := New(discard, matches, &fakeUnits{}, &fakeRequests{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool { return matches.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
