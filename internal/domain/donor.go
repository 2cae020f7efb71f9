package domain

import (
	"time"

	"github.com/google/uuid"
)

// Donor is a flat snapshot of a volunteer donor. UserID is the opaque
// identity-provider reference; no user object is ever loaded.
type Donor struct {
	ID                uuid.UUID
	UserID            int64
	BloodTypeID       int
	Location          *GeoPoint
	LocationUpdatedAt *time.Time
	TravelRadiusKm    float64
	IsReady           bool
	ReadyUpdatedAt    time.Time
	// NextEligible maps component ID to the first day a new donation of that
	// component is allowed. A missing key means no recovery window applies.
	NextEligible map[int]time.Time
	Conditions   []HealthCondition
	Availability []AvailabilityWindow
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NextEligibleDate returns the recovery date for componentID, or nil.
func (d *Donor) NextEligibleDate(componentID int) *time.Time {
	t, ok := d.NextEligible[componentID]
	if !ok {
		return nil
	}
	return &t
}

// InRecovery reports whether the donor may not yet give componentID on the
// day containing now. A date equal to today is eligible.
func (d *Donor) InRecovery(componentID int, now time.Time) bool {
	next := d.NextEligibleDate(componentID)
	if next == nil {
		return false
	}
	return next.After(startOfDay(now))
}

// IneligibleCondition returns the first condition flagged donation-ineligible.
func (d *Donor) IneligibleCondition() (HealthCondition, bool) {
	for _, c := range d.Conditions {
		if c.DonationIneligible {
			return c, true
		}
	}
	return HealthCondition{}, false
}

// AvailableAt reports whether any weekly window covers t (evaluated in UTC).
func (d *Donor) AvailableAt(t time.Time) bool {
	t = t.UTC()
	minute := t.Hour()*60 + t.Minute()
	for _, w := range d.Availability {
		if w.Covers(t.Weekday(), minute) {
			return true
		}
	}
	return false
}

// AvailabilityWindow is a weekly slot [StartMinute, EndMinute) on Weekday, UTC.
type AvailabilityWindow struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

// Covers reports whether the window contains the given weekday/minute.
func (w AvailabilityWindow) Covers(day time.Weekday, minute int) bool {
	return w.Weekday == day && minute >= w.StartMinute && minute < w.EndMinute
}

// IsValid checks window bounds.
func (w AvailabilityWindow) IsValid() bool {
	return w.Weekday >= time.Sunday && w.Weekday <= time.Saturday &&
		w.StartMinute >= 0 && w.EndMinute <= 24*60 && w.StartMinute < w.EndMinute
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
