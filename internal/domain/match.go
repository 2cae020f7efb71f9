package domain

import (
	"time"

	"github.com/google/uuid"
)

// priorityWeight exceeds any surface distance in km, so the priority rank
// always dominates the distance term of a score.
const priorityWeight = 100000.0

// Match is a donor proposed against a request.
type Match struct {
	ID                 uuid.UUID
	RequestID          uuid.UUID
	DonorID            uuid.UUID
	CompatibilityScore float64
	PriorityLevel      int
	DistanceKm         float64
	Status             MatchStatus
	ProposedAt         time.Time
	ContactedAt        *time.Time
	RespondedAt        *time.Time
	DonorResponse      *MatchResponse
	StatusChangedAt    time.Time
}

// CompatibilityScore combines a normalized priority rank and a distance.
// Lower is better: rank dominates and distance breaks ties.
func CompatibilityScore(rank int, distanceKm float64) float64 {
	return float64(rank)*priorityWeight + distanceKm
}
