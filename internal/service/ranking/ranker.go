// Package ranking orders measured donor candidates deterministically.
package ranking

import (
	"sort"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
	"github.com/heartmarshall/bloodlink-backend/internal/service/proximity"
)

// Ranked is a donor candidate with its score, best first.
type Ranked struct {
	DonorID       uuid.UUID
	Donor         *domain.Donor
	BloodTypeID   int
	PriorityLevel int
	DistanceKm    float64
	Score         float64
}

// Rank orders candidates by, in turn:
//   - compatibility preference (normalized by order)
//   - distance, nearest first
//   - most recently confirmed readiness
//   - donor ID
//
// The last key makes the order total, so equal inputs always rank equally.
func Rank(in []proximity.Measured, order domain.PriorityOrder) []Ranked {
	out := make([]Ranked, len(in))
	for i, m := range in {
		rank := order.Rank(m.Compatible.PriorityLevel)
		out[i] = Ranked{
			DonorID:       m.Donor.ID,
			Donor:         m.Donor,
			BloodTypeID:   m.Donor.BloodTypeID,
			PriorityLevel: m.Compatible.PriorityLevel,
			DistanceKm:    m.DistanceKm,
			Score:         domain.CompatibilityScore(rank, m.DistanceKm),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := order.Rank(a.PriorityLevel), order.Rank(b.PriorityLevel); ra != rb {
			return ra < rb
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if !a.Donor.ReadyUpdatedAt.Equal(b.Donor.ReadyUpdatedAt) {
			return a.Donor.ReadyUpdatedAt.After(b.Donor.ReadyUpdatedAt)
		}
		return a.DonorID.String() < b.DonorID.String()
	})
	return out
}
