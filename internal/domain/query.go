package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonorQuery narrows the donor pool before eligibility is evaluated.
type DonorQuery struct {
	BloodTypeIDs []int
	// Box, if set, keeps donors whose last known location lies inside it.
	Box *BoundingBox
	// IncludeUnlocated also returns donors with no location so callers can
	// report them as skipped.
	IncludeUnlocated bool
	// Near, if set, orders located donors nearest first so Limit drops the
	// farthest ones. Unlocated donors sort last.
	Near  *GeoPoint
	Limit int
}

// UnitQuery selects allocatable inventory.
type UnitQuery struct {
	BloodTypeIDs []int
	ComponentID  int
	Now          time.Time
	Limit        int
}

// UnitCounts tallies the units tied to one request.
type UnitCounts struct {
	Reserved int
	Issued   int
}

// Donation is a recorded donation event. It drives the donor's recovery
// window for the donated component.
type Donation struct {
	ID          uuid.UUID
	DonorID     uuid.UUID
	ComponentID int
	DonatedAt   time.Time
	VolumeML    int
	CreatedAt   time.Time
}

// RequestFilter selects requests for listing.
type RequestFilter struct {
	Statuses    []RequestStatus
	Urgency     *Urgency
	RequesterID *int64
	Limit       int
	Offset      int
}
