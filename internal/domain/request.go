package domain

import (
	"time"

	"github.com/google/uuid"
)

// Request is a clinical request for QuantityUnits units of a component.
type Request struct {
	ID               uuid.UUID
	RequesterID      int64
	Urgency          Urgency
	BloodTypeID      int
	ComponentID      int
	QuantityUnits    int
	NeedBefore       time.Time
	DeliveryLocation GeoPoint
	ClinicalNotes    *string
	Status           RequestStatus
	SLADeadline      time.Time
	SLAWarnedAt      *time.Time
	SLABreachedAt    *time.Time
	ClosedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOpen reports whether the request still accepts searches and allocations.
func (r *Request) IsOpen() bool {
	return !r.Status.IsTerminal()
}

// IsOverdue reports whether NeedBefore has passed at now.
func (r *Request) IsOverdue(now time.Time) bool {
	return !r.NeedBefore.After(now)
}

// Progress counts what has been secured for a request so far.
type Progress struct {
	IssuedUnits     int
	ReservedUnits   int
	AcceptedMatches int
	OpenMatches     int
}

// Secured is the quantity that counts towards fulfillment.
func (p Progress) Secured() int {
	return p.IssuedUnits + p.AcceptedMatches
}

// Pending is the quantity secured or in flight (reserved units included).
func (p Progress) Pending() int {
	return p.Secured() + p.ReservedUnits
}

// SLAStatusAt evaluates the request against its deadline at now. Terminal
// requests are evaluated at the moment they closed.
func (r *Request) SLAStatusAt(cfg SLAConfig, now time.Time) SLAStatus {
	at := now
	if r.ClosedAt != nil {
		at = *r.ClosedAt
	}
	if at.After(r.SLADeadline) {
		return SLAStatusBreached
	}
	if !at.Before(r.SLADeadline.Add(-cfg.AlertBefore())) {
		return SLAStatusWarning
	}
	return SLAStatusOnTrack
}

// Cascade summarizes what a close-out released on behalf of a request.
type Cascade struct {
	ReleasedUnits  []uuid.UUID
	ExpiredMatches []uuid.UUID
}
