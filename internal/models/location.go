package models

import (
	"fmt"
	"math"
	"time"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	earthRadiusMeters = 6371008.8
)

// LocationFix is a single latitude/longitude observation. Timestamp is the
// zero time when the producer did not supply one.
type LocationFix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Timestamp time.Time `json:"time,omitempty"`
}

func NewLocationFix(latitude, longitude float64) LocationFix {
	return LocationFix{Latitude: latitude, Longitude: longitude}
}

func (f LocationFix) WithTimestamp(t time.Time) LocationFix {
	f.Timestamp = t
	return f
}

func (f LocationFix) HasTimestamp() bool {
	return !f.Timestamp.IsZero()
}

func (f LocationFix) String() string {
	return fmt.Sprintf("lat=%.6f lon=%.6f", f.Latitude, f.Longitude)
}

// Validate reports a *ValidationError when either coordinate is outside its
// range or not a finite number.
func (f LocationFix) Validate() error {
	if math.IsNaN(f.Latitude) || f.Latitude < MinLatitude || f.Latitude > MaxLatitude {
		return &ValidationError{Field: "latitude", Value: f.Latitude, Min: MinLatitude, Max: MaxLatitude}
	}
	if math.IsNaN(f.Longitude) || f.Longitude < MinLongitude || f.Longitude > MaxLongitude {
		return &ValidationError{Field: "longitude", Value: f.Longitude, Min: MinLongitude, Max: MaxLongitude}
	}
	return nil
}

// DistanceTo returns the great-circle distance in meters.
func (f LocationFix) DistanceTo(other LocationFix) float64 {
	lat1 := f.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (other.Longitude - f.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %v out of range [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}
