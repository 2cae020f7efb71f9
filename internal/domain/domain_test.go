package domain

import (
	"math"
	"testing"
	"time"
)

func TestComponent_NextEligibleAfter(t *testing.T) {
	t.Parallel()

	c := Component{ID: 1, Code: "RBC", RecoveryDays: 56}
	donated := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)

	got := c.NextEligibleAfter(donated)
	want := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEligibleAfter: got %v, want %v", got, want)
	}
}

func TestDonor_InRecovery(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	const rbc, plasma = 1, 2

	d := Donor{NextEligible: map[int]time.Time{
		rbc:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		plasma: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}}

	if d.InRecovery(rbc, today) {
		t.Error("next eligible date equal to today should be eligible")
	}
	if !d.InRecovery(plasma, today) {
		t.Error("next eligible date tomorrow should be in recovery")
	}
	if d.InRecovery(3, today) {
		t.Error("component without a recovery date should be eligible")
	}
}

func TestDonor_IneligibleCondition(t *testing.T) {
	t.Parallel()

	d := Donor{Conditions: []HealthCondition{
		{ID: 1, Code: "ALLERGY", DonationIneligible: false},
		{ID: 2, Code: "HEPATITIS_B", DonationIneligible: true},
	}}
	c, ok := d.IneligibleCondition()
	if !ok || c.Code != "HEPATITIS_B" {
		t.Errorf("got %v %v, want HEPATITIS_B", c, ok)
	}

	clean := Donor{Conditions: []HealthCondition{{ID: 1, Code: "ALLERGY"}}}
	if _, ok := clean.IneligibleCondition(); ok {
		t.Error("donor without flagged conditions should pass")
	}
}

func TestDonor_AvailableAt(t *testing.T) {
	t.Parallel()

	d := Donor{Availability: []AvailabilityWindow{
		{Weekday: time.Monday, StartMinute: 8 * 60, EndMinute: 12 * 60},
	}}

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	if !d.AvailableAt(monday.Add(8 * time.Hour)) {
		t.Error("window start should be covered")
	}
	if d.AvailableAt(monday.Add(12 * time.Hour)) {
		t.Error("window end is exclusive")
	}
	if d.AvailableAt(monday.AddDate(0, 0, 1).Add(9 * time.Hour)) {
		t.Error("tuesday should not be covered")
	}
}

func TestInventoryUnit_ExpiryPrecedesStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	u := InventoryUnit{Status: UnitStatusAvailable, ExpiresAt: now.Add(-time.Minute)}
	if u.IsAllocatable(now) {
		t.Error("expired AVAILABLE unit must not be allocatable")
	}

	u.ExpiresAt = now
	if u.IsAllocatable(now) {
		t.Error("unit expiring exactly now must not be allocatable")
	}

	u.ExpiresAt = now.Add(time.Minute)
	if !u.IsAllocatable(now) {
		t.Error("fresh AVAILABLE unit should be allocatable")
	}

	u.Status = UnitStatusQuarantine
	if u.IsAllocatable(now) {
		t.Error("QUARANTINE unit must not be allocatable")
	}
}

func TestRequest_SLAStatusAt(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := SLAConfig{Urgency: UrgencyUrgent, TargetMinutes: 60, AlertBeforeMinutes: 15}
	r := Request{CreatedAt: created, SLADeadline: created.Add(cfg.Target())}

	tests := []struct {
		name string
		at   time.Time
		want SLAStatus
	}{
		{"fresh", created.Add(10 * time.Minute), SLAStatusOnTrack},
		{"warning threshold", created.Add(45 * time.Minute), SLAStatusWarning},
		{"at deadline", created.Add(60 * time.Minute), SLAStatusWarning},
		{"past deadline", created.Add(61 * time.Minute), SLAStatusBreached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.SLAStatusAt(cfg, tt.at); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequest_SLAStatusAt_ClosedUsesCloseTime(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	closed := created.Add(5 * time.Minute)
	cfg := SLAConfig{TargetMinutes: 60, AlertBeforeMinutes: 15}
	r := Request{CreatedAt: created, SLADeadline: created.Add(time.Hour), ClosedAt: &closed, Status: RequestStatusFulfilled}

	if got := r.SLAStatusAt(cfg, created.Add(24*time.Hour)); got != SLAStatusOnTrack {
		t.Errorf("got %s, want ON_TRACK", got)
	}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	// One degree of latitude is ~111.2 km everywhere.
	got := HaversineKm(GeoPoint{Lat: 10, Lng: 20}, GeoPoint{Lat: 11, Lng: 20})
	if math.Abs(got-111.19) > 0.05 {
		t.Errorf("got %.3f km, want ~111.19", got)
	}
	if d := HaversineKm(GeoPoint{Lat: 1, Lng: 1}, GeoPoint{Lat: 1, Lng: 1}); d != 0 {
		t.Errorf("same point: got %f", d)
	}
}

func TestBoundingBoxAround_ContainsCircle(t *testing.T) {
	t.Parallel()

	center := GeoPoint{Lat: 52.52, Lng: 13.40}
	box := BoundingBoxAround(center, 10)

	for _, bearing := range []GeoPoint{
		{Lat: center.Lat + 0.089, Lng: center.Lng},
		{Lat: center.Lat - 0.089, Lng: center.Lng},
		{Lat: center.Lat, Lng: center.Lng + 0.146},
		{Lat: center.Lat, Lng: center.Lng - 0.146},
	} {
		if HaversineKm(center, bearing) <= 10 && !box.Contains(bearing) {
			t.Errorf("point %v within 10 km is outside the box", bearing)
		}
	}
	if box.Contains(GeoPoint{Lat: center.Lat + 1, Lng: center.Lng}) {
		t.Error("point 111 km away should be outside the box")
	}
}

func TestPlanarDistanceSq_OrdersLikeHaversine(t *testing.T) {
	t.Parallel()

	center := GeoPoint{Lat: 52.52, Lng: 13.40}
	// 0.1 degrees of longitude is shorter than 0.08 of latitude this far north.
	east := GeoPoint{Lat: center.Lat, Lng: center.Lng + 0.1}
	north := GeoPoint{Lat: center.Lat + 0.08, Lng: center.Lng}

	if HaversineKm(center, east) >= HaversineKm(center, north) {
		t.Fatal("fixture: east point should be nearer")
	}
	if PlanarDistanceSq(center, east) >= PlanarDistanceSq(center, north) {
		t.Errorf("planar key disagrees with great-circle order")
	}
	if d := PlanarDistanceSq(center, center); d != 0 {
		t.Errorf("same point: got %v, want 0", d)
	}
}

func TestCompatibilityScore_PriorityDominates(t *testing.T) {
	t.Parallel()

	near := CompatibilityScore(2, 0.5)
	far := CompatibilityScore(1, 5000)
	if far >= near {
		t.Errorf("priority 1 at 5000 km (%f) should beat priority 2 at 0.5 km (%f)", far, near)
	}
	if CompatibilityScore(1, 3) >= CompatibilityScore(1, 8) {
		t.Error("closer donor should score better at equal priority")
	}
}
