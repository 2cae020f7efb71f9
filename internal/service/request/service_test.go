package request

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/memory"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/memory/memtest"
	"github.com/heartmarshall/bloodlink-backend/internal/adapter/provider/routing"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
	"github.com/heartmarshall/bloodlink-backend/internal/service/inventory"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
	"github.com/heartmarshall/bloodlink-backend/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Notify(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(typ domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

var hospital = domain.GeoPoint{Lat: 52.52, Lng: 13.40}

type fixture struct {
	store  *memory.Store
	svc    *Service
	inv    *inventory.Service
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, inventory.Config{})
}

func newFixtureWith(t *testing.T, invCfg inventory.Config) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memtest.NewStore(t)
	events := &recorder{}

	prox := proximity.NewEvaluator(log, routing.Haversine{}, nil, proximity.Config{})
	match := matching.NewService(log, store.Matches(), store.Donors(), prox, events, nil, matching.Config{
		DefaultRadiusKm: 10,
		MatchHold:       time.Hour,
	})
	inv := inventory.NewService(log, store.Units(), store.Reference(), nil, invCfg)
	svc := NewService(log, Deps{
		Requests: store.Requests(),
		Ref:      store.Reference(),
		Rules:    compatibility.NewService(log, store.Reference(), domain.PriorityOrderAsc),
		Matches:  match,
		Units:    inv,
		Tx:       store,
		Notifier: events,
	}, Config{})

	return &fixture{store: store, svc: svc, inv: inv, events: events}
}

func actor(id int64) context.Context {
	return ctxutil.WithActorID(context.Background(), id)
}

func validInput() CreateRequestInput {
	return CreateRequestInput{
		Urgency:          domain.UrgencyUrgent,
		BloodTypeID:      memtest.APos,
		ComponentID:      memtest.RBC,
		QuantityUnits:    1,
		NeedBefore:       time.Now().Add(24 * time.Hour),
		DeliveryLocation: hospital,
	}
}

// acceptDonor runs a donor through propose, contact and accept.
func (f *fixture) acceptDonor(t *testing.T, requestID, donorID uuid.UUID) *domain.Match {
	t.Helper()
	ctx := context.Background()
	m, err := f.svc.ProposeMatch(ctx, requestID, matching.ProposeInput{DonorID: donorID})
	require.NoError(t, err)
	_, err = f.svc.MarkContacted(ctx, m.ID)
	require.NoError(t, err)
	m, err = f.svc.RecordMatchResponse(ctx, m.ID, domain.MatchResponseAccepted)
	require.NoError(t, err)
	return m
}

// ---------------------------------------------------------------------------
// CreateRequest
// ---------------------------------------------------------------------------

func TestCreateRequest_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	in := validInput()
	in.NeedBefore = now.Add(6 * time.Hour)
	r, err := f.svc.CreateRequest(actor(42), in)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, int64(42), r.RequesterID)
	assert.Equal(t, domain.RequestStatusRequested, r.Status)
	assert.True(t, r.SLADeadline.Equal(now.Add(120*time.Minute)), "urgent target is 120 minutes")

	got, err := f.svc.GetRequest(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestCreateRequest_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.CreateRequest(context.Background(), validInput())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	tests := []struct {
		name  string
		mod   func(in *CreateRequestInput)
		field string
	}{
		{"bad urgency", func(in *CreateRequestInput) { in.Urgency = "SOON" }, "urgency"},
		{"zero quantity", func(in *CreateRequestInput) { in.QuantityUnits = 0 }, "quantity_units"},
		{"huge quantity", func(in *CreateRequestInput) { in.QuantityUnits = 51 }, "quantity_units"},
		{"past deadline", func(in *CreateRequestInput) { in.NeedBefore = time.Now().Add(-time.Minute) }, "need_before"},
		{"bad location", func(in *CreateRequestInput) { in.DeliveryLocation = domain.GeoPoint{Lat: 91} }, "delivery_location"},
		{"unknown blood type", func(in *CreateRequestInput) { in.BloodTypeID = 99 }, "blood_type_id"},
		{"unknown component", func(in *CreateRequestInput) { in.ComponentID = 99 }, "component_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mod(&in)
			_, err := f.svc.CreateRequest(actor(1), in)

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Errors[0].Field)
		})
	}
}

// ---------------------------------------------------------------------------
// Donor matching
// ---------------------------------------------------------------------------

func TestSearchDonorCandidates_ONegForAPos(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	donor := memtest.SeedDonor(t, f.store, memtest.ONeg,
		memtest.At(memtest.PointNorth(hospital, 8)), memtest.Radius(10))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	res, err := f.svc.SearchDonorCandidates(ctx, req.ID, matching.SearchOptions{RadiusKm: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, donor.ID, res.Candidates[0].DonorID)
	assert.InDelta(t, 8.0, res.Candidates[0].DistanceKm, 1e-6)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusMatching, got.Status, "first search starts matching")
}

func TestSearchDonorCandidates_RadiusBoundary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	edge := memtest.PointNorth(hospital, 10)
	radius := domain.HaversineKm(edge, hospital)

	onEdge := memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(edge), memtest.Radius(50))
	memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(memtest.PointNorth(hospital, radius+0.01)), memtest.Radius(50))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	res, err := f.svc.SearchDonorCandidates(context.Background(), req.ID, matching.SearchOptions{RadiusKm: radius})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, onEdge.ID, res.Candidates[0].DonorID)
	assert.Len(t, res.OutOfRange, 1)
}

func TestRecordMatchResponse_AcceptanceFulfills(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	d1 := memtest.SeedDonor(t, f.store, memtest.APos, memtest.At(hospital))
	d2 := memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(hospital))
	d3 := memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(hospital))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 2, domain.UrgencyUrgent, hospital)

	f.acceptDonor(t, req.ID, d1.ID)
	pending, err := f.svc.ProposeMatch(ctx, req.ID, matching.ProposeInput{DonorID: d3.ID})
	require.NoError(t, err)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusMatching, got.Status, "one of two units secured")

	f.acceptDonor(t, req.ID, d2.ID)

	got, err = f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFulfilled, got.Status)
	assert.NotNil(t, got.ClosedAt)
	assert.Equal(t, 1, f.events.count(domain.EventRequestFulfilled))

	matches, err := f.svc.ListMatches(ctx, req.ID)
	require.NoError(t, err)
	for _, m := range matches {
		if m.ID == pending.ID {
			assert.Equal(t, domain.MatchStatusExpired, m.Status, "close-out expires open matches")
		}
	}

	_, err = f.svc.ProposeMatch(ctx, req.ID, matching.ProposeInput{DonorID: d3.ID})
	assert.ErrorIs(t, err, domain.ErrConflict, "closed request accepts no proposals")
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

func TestAllocateAndIssue_Fulfills(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	spare := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(96*time.Hour))
	memtest.SeedUnit(t, f.store, memtest.ONeg, memtest.RBC, now.Add(24*time.Hour))
	memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(48*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 2, domain.UrgencyUrgent, hospital)

	res, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, res.Reserved, 2)
	assert.Equal(t, 0, res.Shortfall)
	assert.Equal(t, 2, res.Progress.ReservedUnits)

	again, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Reserved, "pending quantity already covered")

	for _, u := range res.Reserved {
		_, err := f.svc.IssueUnit(ctx, req.ID, u.ID)
		require.NoError(t, err)
	}

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFulfilled, got.Status)

	u, err := f.inv.GetUnit(ctx, spare.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, u.Status)
}

func TestAllocateInventory_PartialReportsShortfall(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	memtest.SeedUnit(t, f.store, memtest.ONeg, memtest.RBC, time.Now().Add(24*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 3, domain.UrgencyEmergency, hospital)

	res, err := f.svc.AllocateInventory(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, res.Reserved, 1)
	assert.Equal(t, 2, res.Shortfall)
}

func TestReleaseUnit_OnlyOwnReservation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, time.Now().Add(24*time.Hour))
	r1 := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)
	r2 := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	res, err := f.svc.AllocateInventory(ctx, r1.ID)
	require.NoError(t, err)
	require.Len(t, res.Reserved, 1)
	unitID := res.Reserved[0].ID

	_, err = f.svc.ReleaseUnit(ctx, r2.ID, unitID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	u, err := f.svc.ReleaseUnit(ctx, r1.ID, unitID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, u.Status)
}

func TestOnReservationLost_Reallocates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expiring := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(time.Hour))
	fresh := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(72*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	res, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, res.Reserved, 1)
	require.Equal(t, expiring.ID, res.Reserved[0].ID, "soonest expiry first")

	sweep, err := f.inv.SweepExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, sweep.Lost, 1)

	require.NoError(t, f.svc.OnReservationLost(ctx, sweep.Lost))
	assert.Equal(t, 1, f.events.count(domain.EventReservationLost))

	units, err := f.svc.ListUnits(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, fresh.ID, units[0].ID)
}

func TestOnReservationLost_HoldTimeoutNotReallocated(t *testing.T) {
	t.Parallel()
	f := newFixtureWith(t, inventory.Config{ReservationHold: 4 * time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	unit := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(72*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)

	_, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)

	sweep, err := f.inv.SweepExpired(ctx, now.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, sweep.Lost, 1)
	require.Equal(t, domain.LostReasonHoldTimeout, sweep.Lost[0].Reason)

	require.NoError(t, f.svc.OnReservationLost(ctx, sweep.Lost))
	assert.Equal(t, 1, f.events.count(domain.EventReservationLost))

	got, err := f.inv.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
	units, err := f.svc.ListUnits(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestOnReservationLost_ReplacementSkipsTimedOutUnits(t *testing.T) {
	t.Parallel()
	f := newFixtureWith(t, inventory.Config{ReservationHold: 4 * time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	expiring := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(time.Hour))
	held := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(72*time.Hour))
	spare := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(80*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 2, domain.UrgencyUrgent, hospital)

	res, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, res.Reserved, 2)
	require.ElementsMatch(t, []uuid.UUID{expiring.ID, held.ID}, []uuid.UUID{res.Reserved[0].ID, res.Reserved[1].ID})

	sweep, err := f.inv.SweepExpired(ctx, now.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, sweep.Lost, 2)

	require.NoError(t, f.svc.OnReservationLost(ctx, sweep.Lost))
	assert.Equal(t, 2, f.events.count(domain.EventReservationLost))

	units, err := f.svc.ListUnits(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, units, 1, "only the expired unit is replaced")
	assert.Equal(t, spare.ID, units[0].ID)

	got, err := f.inv.GetUnit(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
}

// ---------------------------------------------------------------------------
// Close-out
// ---------------------------------------------------------------------------

func TestCancelRequest_CascadesAtomically(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, now.Add(24*time.Hour))
	}
	donor := memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(hospital))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 3, domain.UrgencyRoutine, hospital)

	alloc, err := f.svc.AllocateInventory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, alloc.Reserved, 2)
	m, err := f.svc.ProposeMatch(ctx, req.ID, matching.ProposeInput{DonorID: donor.ID})
	require.NoError(t, err)

	res, err := f.svc.CancelRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCancelled, res.Request.Status)
	assert.Len(t, res.Cascade.ReleasedUnits, 2)
	assert.Equal(t, []uuid.UUID{m.ID}, res.Cascade.ExpiredMatches)

	for _, u := range alloc.Reserved {
		got, err := f.inv.GetUnit(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.UnitStatusAvailable, got.Status)
		assert.Nil(t, got.ReservedForRequestID)
	}
	assert.Equal(t, 1, f.events.count(domain.EventRequestCancelled))
	assert.Equal(t, 1, f.events.count(domain.EventMatchExpired))

	_, err = f.svc.CancelRequest(ctx, req.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "terminal request cannot be cancelled again")

	other := memtest.SeedRequest(t, f.store, memtest.BPos, memtest.RBC, 1, domain.UrgencyRoutine, hospital)
	_, err = f.svc.ProposeMatch(ctx, other.ID, matching.ProposeInput{DonorID: donor.ID})
	assert.NoError(t, err, "donor is free after cancellation")
}

// cancelingAllocator cancels the request just before delegating, as a
// concurrent cancel landing between the open check and the reserve would.
type cancelingAllocator struct {
	allocator
	cancel func()
}

func (c *cancelingAllocator) Allocate(ctx context.Context, req *domain.Request, compatible compatibility.Set, need int, exclude ...uuid.UUID) ([]domain.InventoryUnit, error) {
	c.cancel()
	return c.allocator.Allocate(ctx, req, compatible, need, exclude...)
}

type cancelingMatcher struct {
	matcher
	cancel func()
}

func (c *cancelingMatcher) Propose(ctx context.Context, req *domain.Request, compatible compatibility.Set, input matching.ProposeInput) (*domain.Match, error) {
	c.cancel()
	return c.matcher.Propose(ctx, req, compatible, input)
}

func TestAllocateInventory_CancelledMidwayReservesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	unit := memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, time.Now().Add(72*time.Hour))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)
	f.svc.units = &cancelingAllocator{allocator: f.inv, cancel: func() {
		_, err := f.svc.CancelRequest(ctx, req.ID)
		require.NoError(t, err)
	}}

	_, err := f.svc.AllocateInventory(ctx, req.ID)
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := f.inv.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Status)
	assert.Nil(t, got.ReservedForRequestID)

	r, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusCancelled, r.Status)
}

func TestProposeMatch_CancelledMidwayCreatesNoMatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	donor := memtest.SeedDonor(t, f.store, memtest.ONeg, memtest.At(hospital))
	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)
	f.svc.matches = &cancelingMatcher{matcher: f.svc.matches, cancel: func() {
		_, err := f.svc.CancelRequest(ctx, req.ID)
		require.NoError(t, err)
	}}

	_, err := f.svc.ProposeMatch(ctx, req.ID, matching.ProposeInput{DonorID: donor.ID})
	assert.True(t, domain.IsClosedRequest(err), "got %v", err)

	matches, err := f.store.Matches().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, matches)
	open, err := f.store.Matches().OpenByDonors(ctx, []uuid.UUID{donor.ID})
	require.NoError(t, err)
	assert.Empty(t, open, "donor must stay free for other requests")
}

func TestExpireOverdue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	memtest.SeedUnit(t, f.store, memtest.APos, memtest.RBC, time.Now().Add(96*time.Hour))
	overdue := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyRoutine, hospital)
	_, err := f.svc.AllocateInventory(ctx, overdue.ID)
	require.NoError(t, err)

	n, err := f.svc.ExpireOverdue(ctx, time.Now().Add(47*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.svc.ExpireOverdue(ctx, time.Now().Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetRequest(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusExpired, got.Status)

	units, err := f.svc.ListUnits(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Empty(t, units, "reservation released on expiry")
	assert.Equal(t, 1, f.events.count(domain.EventRequestExpired))
}

// ---------------------------------------------------------------------------
// SLA
// ---------------------------------------------------------------------------

func TestScanSLA_SignalsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyUrgent, hospital)
	created := req.CreatedAt

	res, err := f.svc.ScanSLA(ctx, created.Add(60*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res, "on track")

	res, err = f.svc.ScanSLA(ctx, created.Add(100*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Warned: 1}, res)

	res, err = f.svc.ScanSLA(ctx, created.Add(110*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res, "warning is signalled once")

	res, err = f.svc.ScanSLA(ctx, created.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Breached: 1}, res)

	res, err = f.svc.ScanSLA(ctx, created.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res)

	assert.Equal(t, 1, f.events.count(domain.EventSLAWarning))
	assert.Equal(t, 1, f.events.count(domain.EventSLABreached))

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusRequested, got.Status, "breach never cancels")
}

func TestGetSLAStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	req := memtest.SeedRequest(t, f.store, memtest.APos, memtest.RBC, 1, domain.UrgencyEmergency, hospital)
	created := req.CreatedAt

	tests := []struct {
		at   time.Duration
		want domain.SLAStatus
	}{
		{5 * time.Minute, domain.SLAStatusOnTrack},
		{20 * time.Minute, domain.SLAStatusWarning},
		{31 * time.Minute, domain.SLAStatusBreached},
	}
	for _, tt := range tests {
		f.svc.now = func() time.Time { return created.Add(tt.at) }
		rep, err := f.svc.GetSLAStatus(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rep.Status, "at +%s", tt.at)
	}

	f.svc.now = func() time.Time { return created.Add(10 * time.Minute) }
	_, err := f.svc.CancelRequest(ctx, req.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return created.Add(24 * time.Hour) }
	rep, err := f.svc.GetSLAStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusOnTrack, rep.Status, "closed requests are judged at close time")
}
