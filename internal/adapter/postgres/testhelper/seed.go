package testhelper

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Reference data IDs inserted by the migrations.
const (
	ONeg  = 1
	OPos  = 2
	ANeg  = 3
	APos  = 4
	BNeg  = 5
	BPos  = 6
	ABNeg = 7
	ABPos = 8

	RBC       = 1
	Plasma    = 2
	Platelets = 3

	ConditionHayFever  = 1
	ConditionHepatitis = 2
)

// now returns the current time at database precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// RandomPoint returns a location far enough from other tests' points that
// small bounding boxes around it do not overlap them.
func RandomPoint() domain.GeoPoint {
	return domain.GeoPoint{
		Lat: -60 + rand.Float64()*120,
		Lng: -170 + rand.Float64()*340,
	}
}

// SeedRules inserts red cell rules into A+ (exact type priority 1, O- and
// O+ and A- priority 2) unless they already exist.
func SeedRules(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	rules := []domain.CompatibilityRule{
		{FromBloodTypeID: APos, ToBloodTypeID: APos, ComponentID: RBC, IsCompatible: true, PriorityLevel: 1},
		{FromBloodTypeID: ANeg, ToBloodTypeID: APos, ComponentID: RBC, IsCompatible: true, PriorityLevel: 2},
		{FromBloodTypeID: OPos, ToBloodTypeID: APos, ComponentID: RBC, IsCompatible: true, PriorityLevel: 2},
		{FromBloodTypeID: ONeg, ToBloodTypeID: APos, ComponentID: RBC, IsCompatible: true, PriorityLevel: 2},
		{FromBloodTypeID: BPos, ToBloodTypeID: APos, ComponentID: RBC, IsCompatible: false, PriorityLevel: 0},
	}
	for _, r := range rules {
		_, err := pool.Exec(context.Background(),
			`INSERT INTO compatibility_rules (from_blood_type_id, to_blood_type_id, component_id, is_compatible, priority_level)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT DO NOTHING`,
			r.FromBloodTypeID, r.ToBloodTypeID, r.ComponentID, r.IsCompatible, r.PriorityLevel,
		)
		if err != nil {
			t.Fatalf("testhelper: SeedRules: %v", err)
		}
	}
}

// SeedDonor creates a ready donor with a 25 km radius. loc may be nil.
func SeedDonor(t *testing.T, pool *pgxpool.Pool, bloodType int, loc *domain.GeoPoint) domain.Donor {
	t.Helper()
	ts := now()
	d := domain.Donor{
		ID:             uuid.New(),
		UserID:         rand.Int64N(1<<62) + 1,
		BloodTypeID:    bloodType,
		TravelRadiusKm: 25,
		IsReady:        true,
		ReadyUpdatedAt: ts,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	var lat, lng *float64
	if loc != nil {
		d.Location = loc
		d.LocationUpdatedAt = &ts
		lat, lng = &loc.Lat, &loc.Lng
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO donors (id, user_id, blood_type_id, lat, lng, location_updated_at, travel_radius_km,
		                     is_ready, ready_updated_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.UserID, d.BloodTypeID, lat, lng, d.LocationUpdatedAt, d.TravelRadiusKm,
		d.IsReady, d.ReadyUpdatedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedDonor: %v", err)
	}
	return d
}

// SeedRequest creates a REQUESTED request due in 48 hours with its SLA
// deadline two hours out.
func SeedRequest(t *testing.T, pool *pgxpool.Pool, bloodType, component, quantity int) domain.Request {
	t.Helper()
	ts := now()
	req := domain.Request{
		ID:               uuid.New(),
		RequesterID:      42,
		Urgency:          domain.UrgencyUrgent,
		BloodTypeID:      bloodType,
		ComponentID:      component,
		QuantityUnits:    quantity,
		NeedBefore:       ts.Add(48 * time.Hour),
		DeliveryLocation: RandomPoint(),
		Status:           domain.RequestStatusRequested,
		SLADeadline:      ts.Add(2 * time.Hour),
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO requests (id, requester_id, urgency, blood_type_id, component_id, quantity_units, need_before,
		                       delivery_lat, delivery_lng, status, sla_deadline, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.ID, req.RequesterID, string(req.Urgency), req.BloodTypeID, req.ComponentID, req.QuantityUnits, req.NeedBefore,
		req.DeliveryLocation.Lat, req.DeliveryLocation.Lng, string(req.Status), req.SLADeadline, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedRequest: %v", err)
	}
	return req
}

// CloseRequest moves a request to the terminal status to, bypassing the
// close-out cascade.
func CloseRequest(t *testing.T, pool *pgxpool.Pool, id uuid.UUID, to domain.RequestStatus) {
	t.Helper()
	ts := now()
	_, err := pool.Exec(context.Background(),
		`UPDATE requests SET status = $2, closed_at = $3, updated_at = $3 WHERE id = $1`,
		id, string(to), ts,
	)
	if err != nil {
		t.Fatalf("testhelper: CloseRequest: %v", err)
	}
}

// SeedUnit creates an AVAILABLE unit expiring at expiresAt.
func SeedUnit(t *testing.T, pool *pgxpool.Pool, bloodType, component int, expiresAt time.Time) domain.InventoryUnit {
	t.Helper()
	ts := now()
	u := domain.InventoryUnit{
		ID:          uuid.New(),
		BloodTypeID: bloodType,
		ComponentID: component,
		VolumeML:    450,
		CollectedAt: expiresAt.Add(-30 * 24 * time.Hour).UTC().Truncate(time.Microsecond),
		ExpiresAt:   expiresAt.UTC().Truncate(time.Microsecond),
		Status:      domain.UnitStatusAvailable,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO inventory_units (id, blood_type_id, component_id, volume_ml, collected_at, expires_at,
		                              status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.BloodTypeID, u.ComponentID, u.VolumeML, u.CollectedAt, u.ExpiresAt,
		string(u.Status), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedUnit: %v", err)
	}
	return u
}

// SeedMatch creates a PROPOSED match proposed at proposedAt.
func SeedMatch(t *testing.T, pool *pgxpool.Pool, requestID, donorID uuid.UUID, proposedAt time.Time) domain.Match {
	t.Helper()
	proposedAt = proposedAt.UTC().Truncate(time.Microsecond)
	m := domain.Match{
		ID:                 uuid.New(),
		RequestID:          requestID,
		DonorID:            donorID,
		CompatibilityScore: domain.CompatibilityScore(1, 3.5),
		PriorityLevel:      1,
		DistanceKm:         3.5,
		Status:             domain.MatchStatusProposed,
		ProposedAt:         proposedAt,
		StatusChangedAt:    proposedAt,
	}

	_, err := pool.Exec(context.Background(),
		`INSERT INTO matches (id, request_id, donor_id, compatibility_score, priority_level, distance_km,
		                      status, proposed_at, status_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.RequestID, m.DonorID, m.CompatibilityScore, m.PriorityLevel, m.DistanceKm,
		string(m.Status), m.ProposedAt, m.StatusChangedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedMatch: %v", err)
	}
	return m
}

// PointNorth returns the point km kilometres due north of p.
func PointNorth(p domain.GeoPoint, km float64) domain.GeoPoint {
	return domain.GeoPoint{Lat: p.Lat + km/6371.0088*180/math.Pi, Lng: p.Lng}
}
