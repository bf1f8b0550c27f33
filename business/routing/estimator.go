package routing

import (
	"context"
	"math"
)

const (
	earthRadiusMeters = 6371000.0

	// DefaultCorrectionFactor converts straight line distance to an approximate road distance
	DefaultCorrectionFactor = 1.3
	// DefaultSpeedKmh is the assumed city bus speed when no speed is known
	DefaultSpeedKmh = 25.0
)

// HaversineDistance returns the great-circle distance between two coordinates in meters
func HaversineDistance(origin, destination Coordinate) float64 {
	lat1 := origin.Latitude * math.Pi / 180
	lat2 := destination.Latitude * math.Pi / 180
	deltaLat := (destination.Latitude - origin.Latitude) * math.Pi / 180
	deltaLon := (destination.Longitude - origin.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Estimator computes degraded Results from straight line distance. It has no external dependencies and always
// succeeds, making it a Provider on its own.
type Estimator struct {
	//CorrectionFactor multiplies the straight line distance to approximate travel along roads
	CorrectionFactor float64
	//DefaultSpeedKmh is used when callers don't supply a speed
	DefaultSpeedKmh float64
}

// NewEstimator builds Estimator, values of zero or less are replaced by DefaultCorrectionFactor and DefaultSpeedKmh
func NewEstimator(correctionFactor float64, defaultSpeedKmh float64) Estimator {
	if correctionFactor <= 0 {
		correctionFactor = DefaultCorrectionFactor
	}
	if defaultSpeedKmh <= 0 {
		defaultSpeedKmh = DefaultSpeedKmh
	}
	return Estimator{
		CorrectionFactor: correctionFactor,
		DefaultSpeedKmh:  defaultSpeedKmh,
	}
}

// Estimate returns corrected distance between origin and destination and the time it takes to travel at speedKmh.
// speedKmh of zero or less uses DefaultSpeedKmh
func (e Estimator) Estimate(origin, destination Coordinate, speedKmh float64) Result {
	return e.fromStraightLine(HaversineDistance(origin, destination), speedKmh)
}

// fromStraightLine applies correction and speed assumptions to a straight line distance
func (e Estimator) fromStraightLine(meters float64, speedKmh float64) Result {
	if speedKmh <= 0 {
		speedKmh = e.DefaultSpeedKmh
	}
	corrected := meters * e.CorrectionFactor
	minutes := (corrected / 1000) / speedKmh * 60
	return Result{
		DistanceMeters:  corrected,
		DurationSeconds: minutes * 60,
		Degraded:        true,
	}
}

// Distance implements Provider
func (e Estimator) Distance(_ context.Context, origin, destination Coordinate, speedKmh float64) Result {
	return e.Estimate(origin, destination, speedKmh)
}

// Distances implements Provider
func (e Estimator) Distances(_ context.Context,
	origin Coordinate,
	destinations []Coordinate,
	speedKmh float64) []Result {
	results := make([]Result, len(destinations))
	for i, destination := range destinations {
		results[i] = e.Estimate(origin, destination, speedKmh)
	}
	return results
}

// Chain implements Provider, summing each segment between origin and consecutive waypoints
func (e Estimator) Chain(_ context.Context, origin Coordinate, waypoints []Coordinate, speedKmh float64) []Result {
	results := make([]Result, len(waypoints))
	straightLine := 0.0
	previous := origin
	for i, waypoint := range waypoints {
		straightLine += HaversineDistance(previous, waypoint)
		results[i] = e.fromStraightLine(straightLine, speedKmh)
		previous = waypoint
	}
	return results
}
