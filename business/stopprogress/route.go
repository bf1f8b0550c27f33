// Package stopprogress decides which stop a bus is at or approaching for each GPS fix it reports, and keeps that
// stop sequence from ever moving backwards during a trip.
package stopprogress

import (
	"errors"
	"fmt"

	"github.com/OpenTransitTools/stoptracker/business/routing"
)

var (
	// ErrInvalidRoute indicates a stop list that's empty or isn't strictly ordered by sequence
	ErrInvalidRoute = errors.New("invalid route")
	// ErrNoActiveTrip is returned for buses that haven't started a trip, or whose trip has ended.
	// Trips are never started implicitly
	ErrNoActiveTrip = errors.New("bus has no active trip")
	// ErrNoFix is returned when a bus on a trip hasn't reported a position yet
	ErrNoFix = errors.New("bus has not reported a position")
)

// RouteStop is a stop at its position along a route
type RouteStop struct {
	StopId     string             `json:"stop_id"`
	Sequence   int                `json:"sequence"`
	Name       string             `json:"name,omitempty"`
	Coordinate routing.Coordinate `json:"coordinate"`
}

// Route is the ordered stop list a bus follows during a trip
type Route struct {
	RouteId string      `json:"route_id"`
	Stops   []RouteStop `json:"stops"`
}

// Validate returns ErrInvalidRoute when the stops can't be used for classification
func (r *Route) Validate() error {
	if err := validateStops(r.Stops); err != nil {
		return fmt.Errorf("route %s: %w", r.RouteId, err)
	}
	return nil
}

// FinalSequence returns the sequence of the last stop, or zero when there are no stops
func (r *Route) FinalSequence() int {
	if len(r.Stops) == 0 {
		return 0
	}
	return r.Stops[len(r.Stops)-1].Sequence
}

// StopAt returns the stop with sequence
func (r *Route) StopAt(sequence int) (RouteStop, bool) {
	for _, stop := range r.Stops {
		if stop.Sequence == sequence {
			return stop, true
		}
	}
	return RouteStop{}, false
}

// snapshot copies the route so later changes to the caller's slice don't reach an in progress trip
func (r *Route) snapshot() Route {
	stops := make([]RouteStop, len(r.Stops))
	copy(stops, r.Stops)
	return Route{RouteId: r.RouteId, Stops: stops}
}

// validateStops checks stops are present, positive and strictly increasing by sequence
func validateStops(stops []RouteStop) error {
	if len(stops) == 0 {
		return fmt.Errorf("%w: no stops", ErrInvalidRoute)
	}
	previous := 0
	for _, stop := range stops {
		if stop.Sequence <= 0 {
			return fmt.Errorf("%w: stop %s has non positive sequence %d", ErrInvalidRoute, stop.StopId, stop.Sequence)
		}
		if stop.Sequence <= previous {
			return fmt.Errorf("%w: stop %s sequence %d does not follow %d", ErrInvalidRoute,
				stop.StopId, stop.Sequence, previous)
		}
		previous = stop.Sequence
	}
	return nil
}

// stopsFrom returns the stops with sequence at or after sequence, stops must already be ordered
func stopsFrom(stops []RouteStop, sequence int) []RouteStop {
	for i, stop := range stops {
		if stop.Sequence >= sequence {
			return stops[i:]
		}
	}
	return nil
}
