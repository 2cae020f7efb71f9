package routing

import (
	"context"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// Haversine is a DistanceProvider returning great-circle distances. It never
// fails and needs no network.
type Haversine struct{}

func (Haversine) Distance(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return domain.HaversineKm(from, to), nil
}
