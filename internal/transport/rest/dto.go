package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/donor"
	"github.com/heartmarshall/bloodlink-backend/internal/service/matching"
	"github.com/heartmarshall/bloodlink-backend/internal/service/request"
)

// ---------------------------------------------------------------------------
// Shared
// ---------------------------------------------------------------------------

// GeoPointDTO is a WGS84 coordinate.
type GeoPointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p GeoPointDTO) point() domain.GeoPoint { return domain.GeoPoint{Lat: p.Lat, Lng: p.Lng} }

func toGeoPoint(p *domain.GeoPoint) *GeoPointDTO {
	if p == nil {
		return nil
	}
	return &GeoPointDTO{Lat: p.Lat, Lng: p.Lng}
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// CreateRequestBody is the payload of POST /requests.
type CreateRequestBody struct {
	Urgency          string      `json:"urgency"`
	BloodTypeID      int         `json:"blood_type_id"`
	ComponentID      int         `json:"component_id"`
	QuantityUnits    int         `json:"quantity_units"`
	NeedBefore       time.Time   `json:"need_before"`
	DeliveryLocation GeoPointDTO `json:"delivery_location"`
	ClinicalNotes    *string     `json:"clinical_notes,omitempty"`
}

func (b CreateRequestBody) input() request.CreateRequestInput {
	return request.CreateRequestInput{
		Urgency:          domain.Urgency(b.Urgency),
		BloodTypeID:      b.BloodTypeID,
		ComponentID:      b.ComponentID,
		QuantityUnits:    b.QuantityUnits,
		NeedBefore:       b.NeedBefore,
		DeliveryLocation: b.DeliveryLocation.point(),
		ClinicalNotes:    b.ClinicalNotes,
	}
}

// RequestDTO is a clinical request.
type RequestDTO struct {
	ID               uuid.UUID   `json:"id"`
	RequesterID      int64       `json:"requester_id"`
	Urgency          string      `json:"urgency"`
	BloodTypeID      int         `json:"blood_type_id"`
	ComponentID      int         `json:"component_id"`
	QuantityUnits    int         `json:"quantity_units"`
	NeedBefore       time.Time   `json:"need_before"`
	DeliveryLocation GeoPointDTO `json:"delivery_location"`
	ClinicalNotes    *string     `json:"clinical_notes,omitempty"`
	Status           string      `json:"status"`
	SLADeadline      time.Time   `json:"sla_deadline"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func toRequest(r *domain.Request) RequestDTO {
	return RequestDTO{
		ID:               r.ID,
		RequesterID:      r.RequesterID,
		Urgency:          r.Urgency.String(),
		BloodTypeID:      r.BloodTypeID,
		ComponentID:      r.ComponentID,
		QuantityUnits:    r.QuantityUnits,
		NeedBefore:       r.NeedBefore,
		DeliveryLocation: GeoPointDTO{Lat: r.DeliveryLocation.Lat, Lng: r.DeliveryLocation.Lng},
		ClinicalNotes:    r.ClinicalNotes,
		Status:           r.Status.String(),
		SLADeadline:      r.SLADeadline,
		ClosedAt:         r.ClosedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func toRequests(rs []domain.Request) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i := range rs {
		out[i] = toRequest(&rs[i])
	}
	return out
}

// ProgressDTO counts what has been secured for a request.
type ProgressDTO struct {
	IssuedUnits     int `json:"issued_units"`
	ReservedUnits   int `json:"reserved_units"`
	AcceptedMatches int `json:"accepted_matches"`
	OpenMatches     int `json:"open_matches"`
	Secured         int `json:"secured"`
}

func toProgress(p domain.Progress) ProgressDTO {
	return ProgressDTO{
		IssuedUnits:     p.IssuedUnits,
		ReservedUnits:   p.ReservedUnits,
		AcceptedMatches: p.AcceptedMatches,
		OpenMatches:     p.OpenMatches,
		Secured:         p.Secured(),
	}
}

// CloseDTO is a closed request with what its close-out released.
type CloseDTO struct {
	Request        RequestDTO  `json:"request"`
	ReleasedUnits  []uuid.UUID `json:"released_units"`
	ExpiredMatches []uuid.UUID `json:"expired_matches"`
}

func toClose(res *request.CloseResult) CloseDTO {
	return CloseDTO{
		Request:        toRequest(res.Request),
		ReleasedUnits:  nonNil(res.Cascade.ReleasedUnits),
		ExpiredMatches: nonNil(res.Cascade.ExpiredMatches),
	}
}

// SLADTO is the SLA evaluation of one request.
type SLADTO struct {
	RequestID        uuid.UUID `json:"request_id"`
	Urgency          string    `json:"urgency"`
	Status           string    `json:"status"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

func toSLA(rep *request.SLAReport) SLADTO {
	return SLADTO{
		RequestID:        rep.RequestID,
		Urgency:          rep.Urgency.String(),
		Status:           string(rep.Status),
		Deadline:         rep.Deadline,
		RemainingSeconds: int64(rep.Remaining / time.Second),
	}
}

// ---------------------------------------------------------------------------
// Search & matches
// ---------------------------------------------------------------------------

// CandidateDTO is one ranked donor.
type CandidateDTO struct {
	DonorID       uuid.UUID `json:"donor_id"`
	BloodTypeID   int       `json:"blood_type_id"`
	PriorityLevel int       `json:"priority_level"`
	DistanceKm    float64   `json:"distance_km"`
	Score         float64   `json:"score"`
}

// ExclusionDTO is a donor filtered out by eligibility.
type ExclusionDTO struct {
	DonorID uuid.UUID `json:"donor_id"`
	Reason  string    `json:"reason"`
	Detail  string    `json:"detail,omitempty"`
}

// SkipDTO is a donor whose distance could not be measured.
type SkipDTO struct {
	DonorID uuid.UUID `json:"donor_id"`
	Reason  string    `json:"reason"`
}

// SearchResultDTO is the response of a donor search.
type SearchResultDTO struct {
	RequestID  uuid.UUID      `json:"request_id"`
	RadiusKm   float64        `json:"radius_km"`
	Candidates []CandidateDTO `json:"candidates"`
	Excluded   []ExclusionDTO `json:"excluded"`
	OutOfRange []uuid.UUID    `json:"out_of_range"`
	Skipped    []SkipDTO      `json:"skipped"`
	Degraded   bool           `json:"degraded"`
}

func toSearchResult(res *matching.SearchResult) SearchResultDTO {
	out := SearchResultDTO{
		RequestID:  res.RequestID,
		RadiusKm:   res.RadiusKm,
		Candidates: make([]CandidateDTO, len(res.Candidates)),
		Excluded:   make([]ExclusionDTO, len(res.Excluded)),
		OutOfRange: nonNil(res.OutOfRange),
		Skipped:    make([]SkipDTO, len(res.Skipped)),
		Degraded:   res.Degraded,
	}
	for i, c := range res.Candidates {
		out.Candidates[i] = CandidateDTO{
			DonorID:       c.DonorID,
			BloodTypeID:   c.BloodTypeID,
			PriorityLevel: c.PriorityLevel,
			DistanceKm:    c.DistanceKm,
			Score:         c.Score,
		}
	}
	for i, e := range res.Excluded {
		out.Excluded[i] = ExclusionDTO{DonorID: e.DonorID, Reason: e.Reason.String(), Detail: e.Detail}
	}
	for i, s := range res.Skipped {
		out.Skipped[i] = SkipDTO{DonorID: s.DonorID, Reason: string(s.Reason)}
	}
	return out
}

// ProposeBody is the payload of POST /requests/{id}/matches.
type ProposeBody struct {
	DonorID  uuid.UUID `json:"donor_id"`
	RadiusKm float64   `json:"radius_km"`
}

// RespondBody is the payload of POST /matches/{id}/response.
type RespondBody struct {
	Response string `json:"response"`
}

// MatchDTO is a donor proposal.
type MatchDTO struct {
	ID                 uuid.UUID  `json:"id"`
	RequestID          uuid.UUID  `json:"request_id"`
	DonorID            uuid.UUID  `json:"donor_id"`
	CompatibilityScore float64    `json:"compatibility_score"`
	PriorityLevel      int        `json:"priority_level"`
	DistanceKm         float64    `json:"distance_km"`
	Status             string     `json:"status"`
	ProposedAt         time.Time  `json:"proposed_at"`
	ContactedAt        *time.Time `json:"contacted_at,omitempty"`
	RespondedAt        *time.Time `json:"responded_at,omitempty"`
	DonorResponse      *string    `json:"donor_response,omitempty"`
	StatusChangedAt    time.Time  `json:"status_changed_at"`
}

func toMatch(m *domain.Match) MatchDTO {
	out := MatchDTO{
		ID:                 m.ID,
		RequestID:          m.RequestID,
		DonorID:            m.DonorID,
		CompatibilityScore: m.CompatibilityScore,
		PriorityLevel:      m.PriorityLevel,
		DistanceKm:         m.DistanceKm,
		Status:             m.Status.String(),
		ProposedAt:         m.ProposedAt,
		ContactedAt:        m.ContactedAt,
		RespondedAt:        m.RespondedAt,
		StatusChangedAt:    m.StatusChangedAt,
	}
	if m.DonorResponse != nil {
		resp := string(*m.DonorResponse)
		out.DonorResponse = &resp
	}
	return out
}

func toMatches(ms []domain.Match) []MatchDTO {
	out := make([]MatchDTO, len(ms))
	for i := range ms {
		out[i] = toMatch(&ms[i])
	}
	return out
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// UnitDTO is an inventory unit.
type UnitDTO struct {
	ID                   uuid.UUID  `json:"id"`
	DonationID           *uuid.UUID `json:"donation_id,omitempty"`
	BloodTypeID          int        `json:"blood_type_id"`
	ComponentID          int        `json:"component_id"`
	VolumeML             int        `json:"volume_ml"`
	CollectedAt          time.Time  `json:"collected_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	Status               string     `json:"status"`
	ReservedForRequestID *uuid.UUID `json:"reserved_for_request_id,omitempty"`
	ReservedAt           *time.Time `json:"reserved_at,omitempty"`
	IssuedForRequestID   *uuid.UUID `json:"issued_for_request_id,omitempty"`
}

func toUnit(u *domain.InventoryUnit) UnitDTO {
	return UnitDTO{
		ID:                   u.ID,
		DonationID:           u.DonationID,
		BloodTypeID:          u.BloodTypeID,
		ComponentID:          u.ComponentID,
		VolumeML:             u.VolumeML,
		CollectedAt:          u.CollectedAt,
		ExpiresAt:            u.ExpiresAt,
		Status:               u.Status.String(),
		ReservedForRequestID: u.ReservedForRequestID,
		ReservedAt:           u.ReservedAt,
		IssuedForRequestID:   u.IssuedForRequestID,
	}
}

func toUnits(us []domain.InventoryUnit) []UnitDTO {
	out := make([]UnitDTO, len(us))
	for i := range us {
		out[i] = toUnit(&us[i])
	}
	return out
}

// AllocationDTO is the response of an allocation run.
type AllocationDTO struct {
	Reserved  []UnitDTO   `json:"reserved"`
	Progress  ProgressDTO `json:"progress"`
	Shortfall int         `json:"shortfall"`
}

func toAllocation(res *request.AllocationResult) AllocationDTO {
	return AllocationDTO{
		Reserved:  toUnits(res.Reserved),
		Progress:  toProgress(res.Progress),
		Shortfall: res.Shortfall,
	}
}

// RegisterUnitBody is the payload of POST /units.
type RegisterUnitBody struct {
	BloodTypeID int       `json:"blood_type_id"`
	ComponentID int       `json:"component_id"`
	VolumeML    int       `json:"volume_ml"`
	CollectedAt time.Time `json:"collected_at"`
}

// ---------------------------------------------------------------------------
// Donors
// ---------------------------------------------------------------------------

// RegisterDonorBody is the payload of POST /donors.
type RegisterDonorBody struct {
	BloodTypeID    int          `json:"blood_type_id"`
	Location       *GeoPointDTO `json:"location,omitempty"`
	TravelRadiusKm float64      `json:"travel_radius_km"`
	Ready          bool         `json:"ready"`
}

func (b RegisterDonorBody) input() donor.RegisterInput {
	in := donor.RegisterInput{
		BloodTypeID:    b.BloodTypeID,
		TravelRadiusKm: b.TravelRadiusKm,
		Ready:          b.Ready,
	}
	if b.Location != nil {
		loc := b.Location.point()
		in.Location = &loc
	}
	return in
}

// LocationBody is the payload of PUT /donors/{id}/location.
type LocationBody struct {
	Location       GeoPointDTO `json:"location"`
	TravelRadiusKm float64     `json:"travel_radius_km"`
}

// ReadinessBody is the payload of PUT /donors/{id}/readiness.
type ReadinessBody struct {
	Ready bool `json:"ready"`
}

// AvailabilityDTO is one weekly availability window. Weekday 0 is Sunday.
type AvailabilityDTO struct {
	Weekday     int `json:"weekday"`
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// ConditionsBody is the payload of PUT /donors/{id}/conditions.
type ConditionsBody struct {
	ConditionIDs []int `json:"condition_ids"`
}

// DonationBody is the payload of POST /donors/{id}/donations.
type DonationBody struct {
	ComponentID int       `json:"component_id"`
	DonatedAt   time.Time `json:"donated_at"`
	VolumeML    int       `json:"volume_ml"`
}

// ConditionDTO is a recorded health condition.
type ConditionDTO struct {
	ID                 int    `json:"id"`
	Code               string `json:"code"`
	Name               string `json:"name"`
	DonationIneligible bool   `json:"donation_ineligible"`
}

// DonorDTO is a donor profile.
type DonorDTO struct {
	ID                uuid.UUID         `json:"id"`
	UserID            int64             `json:"user_id"`
	BloodTypeID       int               `json:"blood_type_id"`
	Location          *GeoPointDTO      `json:"location,omitempty"`
	LocationUpdatedAt *time.Time        `json:"location_updated_at,omitempty"`
	TravelRadiusKm    float64           `json:"travel_radius_km"`
	IsReady           bool              `json:"is_ready"`
	NextEligible      map[int]time.Time `json:"next_eligible,omitempty"`
	Conditions        []ConditionDTO    `json:"conditions"`
	Availability      []AvailabilityDTO `json:"availability"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toDonor(d *domain.Donor) DonorDTO {
	out := DonorDTO{
		ID:                d.ID,
		UserID:            d.UserID,
		BloodTypeID:       d.BloodTypeID,
		Location:          toGeoPoint(d.Location),
		LocationUpdatedAt: d.LocationUpdatedAt,
		TravelRadiusKm:    d.TravelRadiusKm,
		IsReady:           d.IsReady,
		NextEligible:      d.NextEligible,
		Conditions:        make([]ConditionDTO, len(d.Conditions)),
		Availability:      make([]AvailabilityDTO, len(d.Availability)),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	for i, c := range d.Conditions {
		out.Conditions[i] = ConditionDTO{ID: c.ID, Code: c.Code, Name: c.Name, DonationIneligible: c.DonationIneligible}
	}
	for i, w := range d.Availability {
		out.Availability[i] = AvailabilityDTO{Weekday: int(w.Weekday), StartMinute: w.StartMinute, EndMinute: w.EndMinute}
	}
	return out
}

// DonationDTO is a recorded donation and its effects.
type DonationDTO struct {
	ID           uuid.UUID `json:"id"`
	DonorID      uuid.UUID `json:"donor_id"`
	ComponentID  int       `json:"component_id"`
	DonatedAt    time.Time `json:"donated_at"`
	VolumeML     int       `json:"volume_ml"`
	NextEligible time.Time `json:"next_eligible"`
	Unit         *UnitDTO  `json:"unit,omitempty"`
}

func toDonation(res *donor.DonationResult) DonationDTO {
	out := DonationDTO{
		ID:           res.Donation.ID,
		DonorID:      res.Donation.DonorID,
		ComponentID:  res.Donation.ComponentID,
		DonatedAt:    res.Donation.DonatedAt,
		VolumeML:     res.Donation.VolumeML,
		NextEligible: res.NextEligible,
	}
	if res.Unit != nil {
		u := toUnit(res.Unit)
		out.Unit = &u
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
