// Package compatibility resolves which donor or unit blood types may supply
// a recipient for a given component. The rule table is the only source of
// truth: a missing row means "not compatible".
package compatibility

import (
	"sort"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Compatible is one acceptable supplier blood type with its preference.
type Compatible struct {
	BloodTypeID   int
	PriorityLevel int
}

// Set is the ordered result of a resolution, most preferred first.
type Set []Compatible

// Contains reports whether bloodTypeID may supply the recipient.
func (s Set) Contains(bloodTypeID int) bool {
	_, ok := s.Lookup(bloodTypeID)
	return ok
}

// Lookup returns the entry for bloodTypeID.
func (s Set) Lookup(bloodTypeID int) (Compatible, bool) {
	for _, c := range s {
		if c.BloodTypeID == bloodTypeID {
			return c, true
		}
	}
	return Compatible{}, false
}

// BloodTypeIDs returns the supplier blood type IDs in preference order.
func (s Set) BloodTypeIDs() []int {
	ids := make([]int, len(s))
	for i, c := range s {
		ids[i] = c.BloodTypeID
	}
	return ids
}

// Resolve filters rules down to compatible suppliers for (recipient,
// component) and orders them by preference, breaking ties on blood type ID.
// Rules keyed on any other recipient or component are ignored, so the
// reverse direction of a rule is never implied. If the table carries
// duplicate rows for a supplier, the most preferred one wins.
func Resolve(rules []domain.CompatibilityRule, recipientBloodTypeID, componentID int, order domain.PriorityOrder) Set {
	best := make(map[int]int)
	for _, r := range rules {
		if r.ToBloodTypeID != recipientBloodTypeID || r.ComponentID != componentID || !r.IsCompatible {
			continue
		}
		if cur, ok := best[r.FromBloodTypeID]; !ok || order.Rank(r.PriorityLevel) < order.Rank(cur) {
			best[r.FromBloodTypeID] = r.PriorityLevel
		}
	}

	set := make(Set, 0, len(best))
	for bt, p := range best {
		set = append(set, Compatible{BloodTypeID: bt, PriorityLevel: p})
	}

	sort.SliceStable(set, func(i, j int) bool {
		ri, rj := order.Rank(set[i].PriorityLevel), order.Rank(set[j].PriorityLevel)
		if ri != rj {
			return ri < rj
		}
		return set[i].BloodTypeID < set[j].BloodTypeID
	})
	return set
}
