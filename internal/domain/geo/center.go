package geo

import (
	"errors"
	"sort"
)

var (
	// ErrNoStops is returned when a center is requested for an empty stop set.
	ErrNoStops = errors.New("no stops to locate")
	// ErrLengthMismatch is returned when latitudes and longitudes differ in length.
	ErrLengthMismatch = errors.New("latitude and longitude counts differ")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Center returns a representative point for a set of stops. Each axis is
// sorted independently and the element at index n/2 is taken, so for even n
// this is the upper middle value rather than the mean of the two middles.
// The inputs are left untouched.
func Center(lats, lons []float64) (Point, error) {
	if len(lats) != len(lons) {
		return Point{}, ErrLengthMismatch
	}
	if len(lats) == 0 {
		return Point{}, ErrNoStops
	}
	return Point{Lat: middle(lats), Lon: middle(lons)}, nil
}

func middle(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
