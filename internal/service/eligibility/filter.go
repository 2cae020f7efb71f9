// Package eligibility decides whether a donor may be considered for a
// request. Checks run in a fixed order and stop at the first failure; the
// outcome is a value, not an error.
package eligibility

import (
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/compatibility"
)

// Reason names the first check a donor failed.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonIncompatibleBloodType Reason = "incompatible_blood_type"
	ReasonNotReady              Reason = "not_ready"
	ReasonInRecovery            Reason = "in_recovery"
	ReasonHealthCondition       Reason = "health_condition"
	ReasonAlreadyEngaged        Reason = "already_engaged"
	ReasonUnavailableNow        Reason = "unavailable_now"
)

func (r Reason) String() string { return string(r) }

// Result is the outcome of checking one donor.
type Result struct {
	DonorID  uuid.UUID
	Eligible bool
	Reason   Reason
	// Detail carries extra context, e.g. the blocking condition code.
	Detail string
	// Compatible is set when the blood type check passed.
	Compatible compatibility.Compatible
}

// Input bundles everything a check needs besides the donor itself.
type Input struct {
	Request    *domain.Request
	Compatible compatibility.Set
	Now        time.Time
	// Engaged lists donors holding an open match on some other request.
	Engaged map[uuid.UUID]bool
	// RequireAvailableNow additionally demands a weekly window covering Now.
	RequireAvailableNow bool
}

// Check runs the eligibility checks for one donor:
//  1. blood type in the compatible set
//  2. ready flag
//  3. recovery window for the requested component
//  4. no donation-ineligible health condition
//
// followed by the optional engagement and availability checks.
func Check(in Input, d *domain.Donor) Result {
	res := Result{DonorID: d.ID}

	c, ok := in.Compatible.Lookup(d.BloodTypeID)
	if !ok {
		return res.fail(ReasonIncompatibleBloodType, "")
	}
	res.Compatible = c

	if !d.IsReady {
		return res.fail(ReasonNotReady, "")
	}

	if d.InRecovery(in.Request.ComponentID, in.Now) {
		next := d.NextEligibleDate(in.Request.ComponentID)
		return res.fail(ReasonInRecovery, next.Format(time.DateOnly))
	}

	if cond, blocked := d.IneligibleCondition(); blocked {
		return res.fail(ReasonHealthCondition, cond.Code)
	}

	if in.Engaged[d.ID] {
		return res.fail(ReasonAlreadyEngaged, "")
	}

	if in.RequireAvailableNow && !d.AvailableAt(in.Now) {
		return res.fail(ReasonUnavailableNow, "")
	}

	res.Eligible = true
	return res
}

func (r Result) fail(reason Reason, detail string) Result {
	r.Eligible = false
	r.Reason = reason
	r.Detail = detail
	return r
}

// Partition splits donors into eligible ones and structured exclusions,
// preserving input order.
func Partition(in Input, donors []domain.Donor) (eligible []Candidate, excluded []Result) {
	for i := range donors {
		d := &donors[i]
		res := Check(in, d)
		if !res.Eligible {
			excluded = append(excluded, res)
			continue
		}
		eligible = append(eligible, Candidate{Donor: d, Compatible: res.Compatible})
	}
	return eligible, excluded
}

// Candidate is a donor that passed every eligibility check.
type Candidate struct {
	Donor      *domain.Donor
	Compatible compatibility.Compatible
}
