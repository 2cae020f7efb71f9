package domain

// Urgency is the clinical priority tier of a request. It selects the SLA.
type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

func (u Urgency) String() string { return string(u) }

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// AllUrgencies lists every urgency tier, most relaxed first.
func AllUrgencies() []Urgency {
	return []Urgency{UrgencyRoutine, UrgencyUrgent, UrgencyEmergency}
}

// RequestStatus is the lifecycle state of a Request.
//
//	REQUESTED -> MATCHING -> {FULFILLED, CANCELLED, EXPIRED}
//	REQUESTED -> {CANCELLED, EXPIRED}
type RequestStatus string

const (
	RequestStatusRequested RequestStatus = "REQUESTED"
	RequestStatusMatching  RequestStatus = "MATCHING"
	RequestStatusFulfilled RequestStatus = "FULFILLED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
	RequestStatusExpired   RequestStatus = "EXPIRED"
)

func (s RequestStatus) String() string { return string(s) }

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusRequested, RequestStatusMatching, RequestStatusFulfilled,
		RequestStatusCancelled, RequestStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusFulfilled, RequestStatusCancelled, RequestStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
// Nothing ever transitions back into REQUESTED.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusRequested:
		return next == RequestStatusMatching || next == RequestStatusCancelled || next == RequestStatusExpired
	case RequestStatusMatching:
		return next == RequestStatusFulfilled || next == RequestStatusCancelled || next == RequestStatusExpired
	}
	return false
}

// OpenRequestStatuses are the statuses in which a request still accepts work.
func OpenRequestStatuses() []RequestStatus {
	return []RequestStatus{RequestStatusRequested, RequestStatusMatching}
}

// MatchStatus is the lifecycle state of a donor Match.
//
//	PROPOSED -> CONTACTED -> {ACCEPTED, DECLINED}
//	PROPOSED|CONTACTED -> EXPIRED
type MatchStatus string

const (
	MatchStatusProposed  MatchStatus = "PROPOSED"
	MatchStatusContacted MatchStatus = "CONTACTED"
	MatchStatusAccepted  MatchStatus = "ACCEPTED"
	MatchStatusDeclined  MatchStatus = "DECLINED"
	MatchStatusExpired   MatchStatus = "EXPIRED"
)

func (s MatchStatus) String() string { return string(s) }

func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusProposed, MatchStatusContacted, MatchStatusAccepted,
		MatchStatusDeclined, MatchStatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the match still holds the donor.
func (s MatchStatus) IsOpen() bool {
	return s == MatchStatusProposed || s == MatchStatusContacted
}

// OpenMatchStatuses are the non-terminal match statuses.
func OpenMatchStatuses() []MatchStatus {
	return []MatchStatus{MatchStatusProposed, MatchStatusContacted}
}

// MatchResponse is the donor's answer to a contacted match.
type MatchResponse string

const (
	MatchResponseAccepted MatchResponse = "ACCEPTED"
	MatchResponseDeclined MatchResponse = "DECLINED"
)

func (r MatchResponse) String() string { return string(r) }

func (r MatchResponse) IsValid() bool {
	return r == MatchResponseAccepted || r == MatchResponseDeclined
}

// Status returns the match status a response moves the match into.
func (r MatchResponse) Status() MatchStatus {
	if r == MatchResponseAccepted {
		return MatchStatusAccepted
	}
	return MatchStatusDeclined
}

// UnitStatus is the lifecycle state of an InventoryUnit.
//
//	QUARANTINE -> AVAILABLE -> RESERVED -> {ISSUED, AVAILABLE, EXPIRED}
//	AVAILABLE -> EXPIRED
type UnitStatus string

const (
	UnitStatusQuarantine UnitStatus = "QUARANTINE"
	UnitStatusAvailable  UnitStatus = "AVAILABLE"
	UnitStatusReserved   UnitStatus = "RESERVED"
	UnitStatusIssued     UnitStatus = "ISSUED"
	UnitStatusExpired    UnitStatus = "EXPIRED"
)

func (s UnitStatus) String() string { return string(s) }

func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitStatusQuarantine, UnitStatusAvailable, UnitStatusReserved,
		UnitStatusIssued, UnitStatusExpired:
		return true
	}
	return false
}

// SLAStatus is the reporting state of a request against its deadline.
type SLAStatus string

const (
	SLAStatusOnTrack  SLAStatus = "ON_TRACK"
	SLAStatusWarning  SLAStatus = "WARNING"
	SLAStatusBreached SLAStatus = "BREACHED"
)

func (s SLAStatus) String() string { return string(s) }

// PriorityOrder says which end of the priority_level scale is preferred.
type PriorityOrder string

const (
	PriorityOrderAsc  PriorityOrder = "asc"
	PriorityOrderDesc PriorityOrder = "desc"
)

func (o PriorityOrder) IsValid() bool {
	return o == PriorityOrderAsc || o == PriorityOrderDesc
}

// Rank normalizes a priority level so that a lower rank is always preferred.
func (o PriorityOrder) Rank(priority int) int {
	if o == PriorityOrderDesc {
		return -priority
	}
	return priority
}
