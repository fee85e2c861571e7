// Package geo holds the coordinate types shared by the routing packages.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPoint is returned by Validate for coordinates outside WGS-84 bounds.
var ErrInvalidPoint = errors.New("invalid geographic point")

// GeoPoint is an immutable WGS-84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point builds a GeoPoint.
func Point(lat, lon float64) GeoPoint {
	return GeoPoint{Lat: lat, Lon: lon}
}

// Validate rejects NaN/Inf values and coordinates outside [-90,90] x [-180,180].
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidPoint, p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPoint, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPoint, p.Lon)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// PointType is the role a waypoint plays in a route.
type PointType string

const (
	// Break is a stop the route must pass through or terminate at.
	Break PointType = "break"
	// Through is a waypoint the route passes without stopping.
	Through PointType = "through"
)

// RoutingPoint is a GeoPoint tagged with its waypoint role.
type RoutingPoint struct {
	GeoPoint
	Type PointType `json:"type"`
}

// BreakPoint tags p as a break waypoint.
func BreakPoint(p GeoPoint) RoutingPoint {
	return RoutingPoint{GeoPoint: p, Type: Break}
}

// HaversineMeters computes the great-circle distance in meters between a and b.
func HaversineMeters(a, b GeoPoint) float64 {
	const earthRadiusM = 6_371_000.0
	const deg2rad = math.Pi / 180.0

	dLat := (b.Lat - a.Lat) * deg2rad
	dLon := (b.Lon - a.Lon) * deg2rad
	lat1r := a.Lat * deg2rad
	lat2r := b.Lat * deg2rad

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1r)*math.Cos(lat2r)*sinDLon*sinDLon
	return earthRadiusM * 2 * math.Asin(math.Sqrt(h))
}

// MetersToMiles converts meters to statute miles.
func MetersToMiles(m float64) float64 {
	return m / 1609.344
}
