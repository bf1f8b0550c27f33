// Package routing answers road distance and travel time questions between coordinates, either from a live
// traffic aware routing service or from a straight line estimate when the service can't be reached.
package routing

import (
	"context"
	"errors"
	"strconv"
)

// ErrProviderUnavailable is wrapped by every failure of a live Source: network errors, timeouts, non 2xx responses
// and payloads that can't be understood
var ErrProviderUnavailable = errors.New("distance provider unavailable")

// Coordinate is a (longitude, latitude) pair in that order, the order used by the routing service.
// Swapping the values is a caller error that can't be detected at runtime.
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// String formats Coordinate as "lon,lat", the form used in routing service paths
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Longitude, 'f', 6, 64) + "," + strconv.FormatFloat(c.Latitude, 'f', 6, 64)
}

// Result is a road distance and travel duration between two points.
// Degraded is true when the values were estimated rather than retrieved from the live service
type Result struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	Degraded        bool    `json:"degraded"`
}

// DurationMinutes returns DurationSeconds in minutes
func (r Result) DurationMinutes() float64 {
	return r.DurationSeconds / 60
}

// Provider answers distance queries and never fails, implementations fall back to estimates instead of
// returning errors.
// speedKmh is the assumed travel speed used only when an estimate has to be made, zero selects the default.
type Provider interface {
	//Distance returns the distance from origin to destination
	Distance(ctx context.Context, origin, destination Coordinate, speedKmh float64) Result
	//Distances returns the point to point distance from origin to each destination, in input order
	Distances(ctx context.Context, origin Coordinate, destinations []Coordinate, speedKmh float64) []Result
	//Chain returns the cumulative distance from origin through each waypoint in order, one Result per waypoint
	Chain(ctx context.Context, origin Coordinate, waypoints []Coordinate, speedKmh float64) []Result
}

// Source is a live routing service. All errors returned wrap ErrProviderUnavailable.
type Source interface {
	Route(ctx context.Context, origin, destination Coordinate) (Result, error)
	Matrix(ctx context.Context, origin Coordinate, destinations []Coordinate) ([]Result, error)
	Legs(ctx context.Context, origin Coordinate, waypoints []Coordinate) ([]Result, error)
}
