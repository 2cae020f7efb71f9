package domain

import "time"

// BloodType is immutable reference data. The engine never interprets the
// ABO/Rh values; compatibility comes only from CompatibilityRule rows.
type BloodType struct {
	ID       int
	ABOGroup string
	RhFactor string
}

// Code renders the conventional short form, e.g. "O-" or "AB+".
func (b BloodType) Code() string {
	return b.ABOGroup + b.RhFactor
}

// Component is a blood product kind (whole blood, plasma, platelets...).
// RecoveryDays is the donor recovery policy, ShelfLifeDays the unit shelf life.
type Component struct {
	ID            int
	Code          string
	Name          string
	RecoveryDays  int
	ShelfLifeDays int
}

// ShelfLife returns the usable period of a unit after collection.
func (c Component) ShelfLife() time.Duration {
	return time.Duration(c.ShelfLifeDays) * 24 * time.Hour
}

// NextEligibleAfter returns the first date a donor may give this component
// again after donating it at donatedAt. The result is truncated to a day.
func (c Component) NextEligibleAfter(donatedAt time.Time) time.Time {
	d := donatedAt.UTC().AddDate(0, 0, c.RecoveryDays)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// CompatibilityRule is a directed statement that FromBloodTypeID may supply
// ToBloodTypeID for ComponentID. Rules are never assumed symmetric.
type CompatibilityRule struct {
	FromBloodTypeID int
	ToBloodTypeID   int
	ComponentID     int
	IsCompatible    bool
	PriorityLevel   int
}

// HealthCondition is reference data for recorded donor conditions.
type HealthCondition struct {
	ID                 int
	Code               string
	Name               string
	DonationIneligible bool
}

// SLAConfig holds the response target for one urgency tier.
type SLAConfig struct {
	Urgency            Urgency
	TargetMinutes      int
	AlertBeforeMinutes int
}

// Target returns the target response duration.
func (c SLAConfig) Target() time.Duration {
	return time.Duration(c.TargetMinutes) * time.Minute
}

// AlertBefore returns the warning lead time before the deadline.
func (c SLAConfig) AlertBefore() time.Duration {
	return time.Duration(c.AlertBeforeMinutes) * time.Minute
}
