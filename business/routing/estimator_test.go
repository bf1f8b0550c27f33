package routing

import (
	"context"
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name        string
		origin      Coordinate
		destination Coordinate
		want        float64
		tolerance   float64
	}{
		{
			name:        "same point",
			origin:      Coordinate{Longitude: 73.0479, Latitude: 33.6844},
			destination: Coordinate{Longitude: 73.0479, Latitude: 33.6844},
			want:        0,
			tolerance:   0,
		},
		{
			name:        "one degree of latitude",
			origin:      Coordinate{Longitude: 0, Latitude: 0},
			destination: Coordinate{Longitude: 0, Latitude: 1},
			want:        111194.93,
			tolerance:   0.1,
		},
		{
			name:        "one degree of longitude at the equator",
			origin:      Coordinate{Longitude: 0, Latitude: 0},
			destination: Coordinate{Longitude: 1, Latitude: 0},
			want:        111194.93,
			tolerance:   0.1,
		},
		{
			name:        "Portland downtown to Gresham",
			origin:      Coordinate{Longitude: -122.6765, Latitude: 45.5231},
			destination: Coordinate{Longitude: -122.4302, Latitude: 45.4981},
			want:        19400,
			tolerance:   200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineDistance(tt.origin, tt.destination)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineDistance() = %f, want %f within %f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestEstimator_Estimate(t *testing.T) {
	origin := Coordinate{Longitude: 73.0479, Latitude: 33.6844}
	destination := Coordinate{Longitude: 73.0551, Latitude: 33.7015}
	straightLine := HaversineDistance(origin, destination)

	tests := []struct {
		name         string
		estimator    Estimator
		speedKmh     float64
		wantMeters   float64
		wantMinutes  float64
		wantDegraded bool
	}{
		{
			name:         "defaults",
			estimator:    NewEstimator(0, 0),
			speedKmh:     0,
			wantMeters:   straightLine * 1.3,
			wantMinutes:  (straightLine * 1.3 / 1000) / 25 * 60,
			wantDegraded: true,
		},
		{
			name:         "caller speed overrides default",
			estimator:    NewEstimator(0, 0),
			speedKmh:     50,
			wantMeters:   straightLine * 1.3,
			wantMinutes:  (straightLine * 1.3 / 1000) / 50 * 60,
			wantDegraded: true,
		},
		{
			name:         "configured factor and speed",
			estimator:    NewEstimator(1.5, 30),
			speedKmh:     -1,
			wantMeters:   straightLine * 1.5,
			wantMinutes:  (straightLine * 1.5 / 1000) / 30 * 60,
			wantDegraded: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.estimator.Estimate(origin, destination, tt.speedKmh)
			if math.Abs(got.DistanceMeters-tt.wantMeters) > 1e-9 {
				t.Errorf("DistanceMeters = %f, want %f", got.DistanceMeters, tt.wantMeters)
			}
			if math.Abs(got.DurationMinutes()-tt.wantMinutes) > 1e-9 {
				t.Errorf("DurationMinutes() = %f, want %f", got.DurationMinutes(), tt.wantMinutes)
			}
			if got.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %t, want %t", got.Degraded, tt.wantDegraded)
			}
		})
	}
}

func TestEstimator_Chain(t *testing.T) {
	is := is.New(t)
	estimator := NewEstimator(0, 0)
	origin := Coordinate{Longitude: 0, Latitude: 0}
	waypoints := []Coordinate{
		{Longitude: 0, Latitude: 0.01},
		{Longitude: 0, Latitude: 0.02},
		{Longitude: 0, Latitude: 0.03},
	}

	results := estimator.Chain(context.Background(), origin, waypoints, 0)
	is.Equal(len(results), 3)

	single := estimator.Estimate(origin, waypoints[0], 0)
	for i, result := range results {
		is.True(result.Degraded)
		want := single.DistanceMeters * float64(i+1)
		is.True(math.Abs(result.DistanceMeters-want) < 0.01) // cumulative distance grows with each segment
	}
	is.True(results[2].DurationSeconds > results[1].DurationSeconds)
}

func TestEstimator_Distances(t *testing.T) {
	is := is.New(t)
	estimator := NewEstimator(0, 0)
	origin := Coordinate{Longitude: 0, Latitude: 0}
	destinations := []Coordinate{
		{Longitude: 0, Latitude: 0.02},
		{Longitude: 0, Latitude: 0.01},
	}
	results := estimator.Distances(context.Background(), origin, destinations, 0)
	is.Equal(len(results), 2)
	is.True(results[0].DistanceMeters > results[1].DistanceMeters) // results keep destination order
	is.Equal(len(estimator.Distances(context.Background(), origin, nil, 0)), 0)
}
