package models

import (
	"math"

	"roadassist/pkg/errs"
)

const earthRadiusMeters = 6371000.0

// Point is a (longitude, latitude) pair in degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type GeoLocation struct {
	Point   Point  `json:"point"`
	Address string `json:"address"`
}

// Validate rejects out-of-range coordinates and the (0,0) "unset" point.
func (p Point) Validate() error {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) {
		return errs.ErrInvalidLocation
	}
	if p.Lng < -180 || p.Lng > 180 || p.Lat < -90 || p.Lat > 90 {
		return errs.ErrInvalidLocation
	}
	if p.Lng == 0 && p.Lat == 0 {
		return errs.ErrInvalidLocation
	}
	return nil
}

// DistanceTo is the haversine great-circle distance in meters.
func (p Point) DistanceTo(q Point) float64 {
	dLat := (q.Lat - p.Lat) * math.Pi / 180.0
	dLng := (q.Lng - p.Lng) * math.Pi / 180.0
	la1 := p.Lat * math.Pi / 180.0
	la2 := q.Lat * math.Pi / 180.0
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(la1)*math.Cos(la2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Candidate is a raw hit from a location index, before principal filtering.
type Candidate struct {
	PrincipalID    string  `json:"principal_id"`
	DistanceMeters float64 `json:"distance_m"`
}

type Match struct {
	Principal      *Principal `json:"principal"`
	DistanceMeters float64    `json:"distance_m"`
}
