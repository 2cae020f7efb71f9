package domain

import (
	"time"

	"github.com/google/uuid"
)

// InventoryUnit is one stored unit of a blood component.
// ReservedForRequestID is non-nil only while Status is RESERVED.
type InventoryUnit struct {
	ID                   uuid.UUID
	DonationID           *uuid.UUID
	BloodTypeID          int
	ComponentID          int
	VolumeML             int
	CollectedAt          time.Time
	ExpiresAt            time.Time
	Status               UnitStatus
	ReservedForRequestID *uuid.UUID
	ReservedAt           *time.Time
	IssuedForRequestID   *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsExpired reports whether the unit is past its shelf life at now.
// Expiry is decided here, never by the stored status alone.
func (u *InventoryUnit) IsExpired(now time.Time) bool {
	return !u.ExpiresAt.After(now)
}

// IsAllocatable reports whether the unit may be reserved at now.
func (u *InventoryUnit) IsAllocatable(now time.Time) bool {
	return u.Status == UnitStatusAvailable && !u.IsExpired(now)
}

// LostReservation describes a reservation that ended without the unit being
// issued, either because the unit expired or because the hold timed out.
type LostReservation struct {
	UnitID    uuid.UUID
	RequestID uuid.UUID
	Reason    string
}

const (
	LostReasonUnitExpired = "unit_expired"
	LostReasonHoldTimeout = "hold_timeout"
)
