package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a signal sent to the notification dispatcher.
type EventType string

const (
	EventMatchProposed    EventType = "match.proposed"
	EventMatchContacted   EventType = "match.contacted"
	EventMatchResponded   EventType = "match.responded"
	EventMatchExpired     EventType = "match.expired"
	EventReservationLost  EventType = "reservation.lost"
	EventRequestFulfilled EventType = "request.fulfilled"
	EventRequestCancelled EventType = "request.cancelled"
	EventRequestExpired   EventType = "request.expired"
	EventSLAWarning       EventType = "sla.warning"
	EventSLABreached      EventType = "sla.breached"
)

func (e EventType) String() string { return string(e) }

// Event is a fire-and-forget notification. Attributes carry small scalar
// details (donor id, urgency, reason) for the downstream notifier.
type Event struct {
	Type       EventType
	RequestID  uuid.UUID
	MatchID    *uuid.UUID
	UnitID     *uuid.UUID
	OccurredAt time.Time
	Attributes map[string]string
}
