package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// distanceKeyPrefix namespaces cached distances. Coordinates are rounded to
// five decimals (about one metre) so repeated lookups share a key.
const distanceKeyPrefix = "bloodlink:dist:v1:"

type distanceProvider interface {
	Distance(ctx context.Context, from, to domain.GeoPoint) (float64, error)
}

// Distances caches a distance provider in redis. Redis failures never fail a
// lookup; they fall through to the wrapped provider.
type Distances struct {
	client *redis.Client
	next   distanceProvider
	ttl    time.Duration
	log    *slog.Logger
}

// NewDistances wraps next with a redis cache holding entries for ttl.
func NewDistances(log *slog.Logger, client *redis.Client, next distanceProvider, ttl time.Duration) *Distances {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Distances{
		client: client,
		next:   next,
		ttl:    ttl,
		log:    log.With("adapter", "distance_cache"),
	}
}

func (c *Distances) Distance(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	key := distanceKey(from, to)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if km, perr := strconv.ParseFloat(cached, 64); perr == nil {
			return km, nil
		}
		c.log.WarnContext(ctx, "corrupt cached distance", slog.String("key", key))
	case errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		c.log.WarnContext(ctx, "distance cache read failed", slog.String("error", err.Error()))
	}

	km, err := c.next.Distance(ctx, from, to)
	if err != nil {
		return 0, err
	}

	if err := c.client.Set(ctx, key, strconv.FormatFloat(km, 'f', -1, 64), c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "distance cache write failed", slog.String("error", err.Error()))
	}
	return km, nil
}

// distanceKey is direction sensitive: road distances are not symmetric.
func distanceKey(from, to domain.GeoPoint) string {
	return fmt.Sprintf("%s%.5f,%.5f;%.5f,%.5f", distanceKeyPrefix, from.Lat, from.Lng, to.Lat, to.Lng)
}
