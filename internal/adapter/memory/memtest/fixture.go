// Package memtest seeds a memory.Store with reference data and entities for
// service tests.
package memtest

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/adapter/memory"
	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Blood type IDs of the seeded reference data.
const (
	ONeg  = 1
	OPos  = 2
	ANeg  = 3
	APos  = 4
	BNeg  = 5
	BPos  = 6
	ABNeg = 7
	ABPos = 8
)

// Component IDs of the seeded reference data.
const (
	RBC       = 1
	Plasma    = 2
	Platelets = 3
)

// Health condition IDs of the seeded reference data.
const (
	ConditionHayFever  = 1
	ConditionHepatitis = 2
)

var bloodTypes = []domain.BloodType{
	{ID: ONeg, ABOGroup: "O", RhFactor: "-"},
	{ID: OPos, ABOGroup: "O", RhFactor: "+"},
	{ID: ANeg, ABOGroup: "A", RhFactor: "-"},
	{ID: APos, ABOGroup: "A", RhFactor: "+"},
	{ID: BNeg, ABOGroup: "B", RhFactor: "-"},
	{ID: BPos, ABOGroup: "B", RhFactor: "+"},
	{ID: ABNeg, ABOGroup: "AB", RhFactor: "-"},
	{ID: ABPos, ABOGroup: "AB", RhFactor: "+"},
}

// SLA targets of the seeded configuration.
var SLAConfigs = []domain.SLAConfig{
	{Urgency: domain.UrgencyRoutine, TargetMinutes: 24 * 60, AlertBeforeMinutes: 120},
	{Urgency: domain.UrgencyUrgent, TargetMinutes: 120, AlertBeforeMinutes: 30},
	{Urgency: domain.UrgencyEmergency, TargetMinutes: 30, AlertBeforeMinutes: 10},
}

// NewStore returns a store with blood types, components, conditions, a
// conventional red cell and plasma compatibility table and SLA targets.
// Identical types get priority 1, every other compatible type priority 2.
func NewStore(t testing.TB) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	ref := s.Reference()

	for _, bt := range bloodTypes {
		must(t, ref.UpsertBloodType(ctx, bt))
	}
	must(t, ref.UpsertComponent(ctx, domain.Component{ID: RBC, Code: "RBC", Name: "Red blood cells", RecoveryDays: 56, ShelfLifeDays: 42}))
	must(t, ref.UpsertComponent(ctx, domain.Component{ID: Plasma, Code: "FFP", Name: "Fresh frozen plasma", RecoveryDays: 14, ShelfLifeDays: 365}))
	must(t, ref.UpsertComponent(ctx, domain.Component{ID: Platelets, Code: "PLT", Name: "Platelets", RecoveryDays: 7, ShelfLifeDays: 5}))
	must(t, ref.UpsertHealthCondition(ctx, domain.HealthCondition{ID: ConditionHayFever, Code: "HAY_FEVER", Name: "Hay fever"}))
	must(t, ref.UpsertHealthCondition(ctx, domain.HealthCondition{ID: ConditionHepatitis, Code: "HEPATITIS_B", Name: "Hepatitis B", DonationIneligible: true}))
	for _, cfg := range SLAConfigs {
		must(t, ref.UpsertSLAConfig(ctx, cfg))
	}

	var rules []domain.CompatibilityRule
	for _, from := range bloodTypes {
		for _, to := range bloodTypes {
			if redCellCompatible(from, to) {
				rules = append(rules, rule(from, to, RBC))
			}
			if plasmaCompatible(from, to) {
				rules = append(rules, rule(from, to, Plasma))
			}
		}
	}
	must(t, ref.ReplaceRules(ctx, rules))
	return s
}

func rule(from, to domain.BloodType, component int) domain.CompatibilityRule {
	priority := 2
	if from.ID == to.ID {
		priority = 1
	}
	return domain.CompatibilityRule{
		FromBloodTypeID: from.ID,
		ToBloodTypeID:   to.ID,
		ComponentID:     component,
		IsCompatible:    true,
		PriorityLevel:   priority,
	}
}

// Red cells: donor antigens must be a subset of the recipient's.
func redCellCompatible(from, to domain.BloodType) bool {
	return antigensSubset(from.ABOGroup, to.ABOGroup) && (from.RhFactor == "-" || to.RhFactor == "+")
}

// Plasma: recipient antigens must be a subset of the donor's. Rh is ignored.
func plasmaCompatible(from, to domain.BloodType) bool {
	return antigensSubset(to.ABOGroup, from.ABOGroup)
}

func antigensSubset(a, b string) bool {
	for _, antigen := range strings.TrimPrefix(a, "O") {
		if !strings.ContainsRune(b, antigen) {
			return false
		}
	}
	return true
}

// DonorOption customizes a seeded donor.
type DonorOption func(d *domain.Donor)

// At places the donor at p.
func At(p domain.GeoPoint) DonorOption {
	return func(d *domain.Donor) {
		d.Location = &p
		at := time.Now().UTC()
		d.LocationUpdatedAt = &at
	}
}

// Radius sets the donor travel radius.
func Radius(km float64) DonorOption {
	return func(d *domain.Donor) { d.TravelRadiusKm = km }
}

// NotReady clears the ready flag.
func NotReady() DonorOption {
	return func(d *domain.Donor) { d.IsReady = false }
}

// Recovering sets the next eligible date of component.
func Recovering(component int, until time.Time) DonorOption {
	return func(d *domain.Donor) {
		if d.NextEligible == nil {
			d.NextEligible = map[int]time.Time{}
		}
		d.NextEligible[component] = until
	}
}

// WithCondition attaches a seeded health condition.
func WithCondition(id int) DonorOption {
	return func(d *domain.Donor) {
		d.Conditions = append(d.Conditions, domain.HealthCondition{ID: id})
	}
}

// SeedDonor creates a ready donor with a 25 km travel radius and no location.
func SeedDonor(t testing.TB, s *memory.Store, bloodType int, opts ...DonorOption) *domain.Donor {
	t.Helper()
	now := time.Now().UTC()
	d := &domain.Donor{
		ID:             uuid.New(),
		UserID:         int64(uuid.New().ID()),
		BloodTypeID:    bloodType,
		TravelRadiusKm: 25,
		IsReady:        true,
		ReadyUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, o := range opts {
		o(d)
	}
	created, err := s.Donors().Create(context.Background(), d)
	if err != nil {
		t.Fatalf("memtest: SeedDonor: %v", err)
	}
	return created
}

// SeedUnit creates an AVAILABLE unit expiring at expiresAt.
func SeedUnit(t testing.TB, s *memory.Store, bloodType, component int, expiresAt time.Time) *domain.InventoryUnit {
	t.Helper()
	now := time.Now().UTC()
	u := &domain.InventoryUnit{
		ID:          uuid.New(),
		BloodTypeID: bloodType,
		ComponentID: component,
		VolumeML:    450,
		CollectedAt: now.Add(-24 * time.Hour),
		ExpiresAt:   expiresAt,
		Status:      domain.UnitStatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.Units().Create(context.Background(), u)
	if err != nil {
		t.Fatalf("memtest: SeedUnit: %v", err)
	}
	return created
}

// SeedRequest creates a REQUESTED request delivered to loc.
func SeedRequest(t testing.TB, s *memory.Store, bloodType, component, quantity int, urgency domain.Urgency, loc domain.GeoPoint) *domain.Request {
	t.Helper()
	now := time.Now().UTC()
	target := time.Hour
	for _, c := range SLAConfigs {
		if c.Urgency == urgency {
			target = c.Target()
		}
	}
	r := &domain.Request{
		ID:               uuid.New(),
		RequesterID:      42,
		Urgency:          urgency,
		BloodTypeID:      bloodType,
		ComponentID:      component,
		QuantityUnits:    quantity,
		NeedBefore:       now.Add(48 * time.Hour),
		DeliveryLocation: loc,
		Status:           domain.RequestStatusRequested,
		SLADeadline:      now.Add(target),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := s.Requests().Create(context.Background(), r)
	if err != nil {
		t.Fatalf("memtest: SeedRequest: %v", err)
	}
	return created
}

// PointNorth returns the point km kilometres due north of p. Along a
// meridian the great-circle distance is exact.
func PointNorth(p domain.GeoPoint, km float64) domain.GeoPoint {
	return domain.GeoPoint{Lat: p.Lat + km/6371.0088*180/math.Pi, Lng: p.Lng}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("memtest: %v", err)
	}
}
