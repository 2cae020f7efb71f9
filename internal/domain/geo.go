package domain

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0088

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// IsValid reports whether the coordinate lies within WGS84 bounds.
func (p GeoPoint) IsValid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// bboxMargin widens bounding boxes so that points exactly on the radius
// survive floating point rounding.
const bboxMargin = 1.01

// BoundingBox is an axis-aligned lat/lng rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// PlanarDistanceSq is a cheap ordering key for distance from center: the
// squared equirectangular offset in degrees, longitude scaled by cos(lat).
// It orders like HaversineKm over the short ranges a search box spans.
func PlanarDistanceSq(center, p GeoPoint) float64 {
	kx := LngScale(center)
	dLat := p.Lat - center.Lat
	dLng := (p.Lng - center.Lng) * kx
	return dLat*dLat + dLng*dLng
}

// LngScale is the factor that converts a longitude delta at center's
// latitude into an equivalent latitude delta.
func LngScale(center GeoPoint) float64 {
	return math.Cos(center.Lat * math.Pi / 180)
}

// BoundingBoxAround returns a box that contains every point within radiusKm
// of center. It is a coarse SQL prefilter; exact distances are computed later.
// Near the poles or the antimeridian the box widens to the full longitude range.
func BoundingBoxAround(center GeoPoint, radiusKm float64) BoundingBox {
	dLat := radiusKm * bboxMargin / earthRadiusKm * 180 / math.Pi
	box := BoundingBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		return box
	}
	dLng := dLat / cosLat
	if center.Lng-dLng < -180 || center.Lng+dLng > 180 {
		return box
	}
	box.MinLng = center.Lng - dLng
	box.MaxLng = center.Lng + dLng
	return box
}

// Contains reports whether p lies inside the box (inclusive).
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}
