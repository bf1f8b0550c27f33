package stopprogress

import (
	"context"

	"github.com/OpenTransitTools/stoptracker/business/routing"
)

const (
	// DefaultAtStopThresholdMeters is how close a bus has to be to a stop to be considered at it
	DefaultAtStopThresholdMeters = 150.0
	// DefaultPassedDetourRatio is how much longer going back through the nearest stop to the next stop has to be,
	// compared to driving straight to the next stop, before the nearest stop is considered behind the bus
	DefaultPassedDetourRatio = 1.5
)

// StopDistance is the distance from a bus to a stop
type StopDistance struct {
	Stop   RouteStop      `json:"stop"`
	Result routing.Result `json:"result"`
}

// Classification is the result of classifying one bus position against a route
type Classification struct {
	//Sequence is the candidate stop sequence, not yet checked against the last accepted sequence
	Sequence int
	//AtStop is true when the bus is within the at stop threshold of the stop at Sequence
	AtStop bool
	//PassedNearest is true when the bus was judged to have moved beyond the nearest stop
	PassedNearest bool
	//Distances holds the distance to every stop that was considered, in route order
	Distances []StopDistance
}

// Lookup returns the distance to the stop at sequence if it was considered
func (c *Classification) Lookup(sequence int) (routing.Result, bool) {
	for _, d := range c.Distances {
		if d.Stop.Sequence == sequence {
			return d.Result, true
		}
	}
	return routing.Result{}, false
}

// Degraded returns true when any distance was estimated
func (c *Classification) Degraded() bool {
	for _, d := range c.Distances {
		if d.Result.Degraded {
			return true
		}
	}
	return false
}

// history returns distances keyed by stop sequence, used as the previous observation on the next fix
func (c *Classification) history() map[int]float64 {
	result := make(map[int]float64, len(c.Distances))
	for _, d := range c.Distances {
		result[d.Stop.Sequence] = d.Result.DistanceMeters
	}
	return result
}

// Classifier decides which stop a bus position belongs to
type Classifier struct {
	provider          routing.Provider
	atStopMeters      float64
	passedDetourRatio float64
}

// NewClassifier builds a Classifier, zero or negative thresholds are replaced with their defaults
func NewClassifier(provider routing.Provider, atStopMeters float64, passedDetourRatio float64) *Classifier {
	if atStopMeters <= 0 {
		atStopMeters = DefaultAtStopThresholdMeters
	}
	if passedDetourRatio <= 0 {
		passedDetourRatio = DefaultPassedDetourRatio
	}
	return &Classifier{
		provider:          provider,
		atStopMeters:      atStopMeters,
		passedDetourRatio: passedDetourRatio,
	}
}

// Classify finds the stop a bus at position is at or heading to, among stops with sequence at or after
// lastSequence. history holds the distances to each stop seen on the previous fix, and may be nil.
//
// The result is only a candidate, it may be lower than lastSequence and must pass through Accept before use.
// When no stops remain the bus is held at lastSequence.
func (c *Classifier) Classify(ctx context.Context,
	lastSequence int,
	stops []RouteStop,
	position routing.Coordinate,
	history map[int]float64) (Classification, error) {

	if err := validateStops(stops); err != nil {
		return Classification{}, err
	}
	remaining := stopsFrom(stops, lastSequence)
	if len(remaining) == 0 {
		return Classification{Sequence: lastSequence}, nil
	}

	destinations := make([]routing.Coordinate, len(remaining))
	for i, stop := range remaining {
		destinations[i] = stop.Coordinate
	}
	results := c.provider.Distances(ctx, position, destinations, 0)

	distances := make([]StopDistance, len(remaining))
	nearest := 0
	for i, stop := range remaining {
		distances[i] = StopDistance{Stop: stop, Result: results[i]}
		//strictly less, ties go to the earlier stop
		if results[i].DistanceMeters < results[nearest].DistanceMeters {
			nearest = i
		}
	}
	classification := Classification{
		Sequence:  remaining[nearest].Sequence,
		Distances: distances,
	}

	if results[nearest].DistanceMeters <= c.atStopMeters {
		classification.AtStop = true
		return classification, nil
	}

	if c.passedStop(ctx, position, distances, nearest, history) {
		classification.PassedNearest = true
		classification.Sequence = remaining[nearest+1].Sequence
	}
	return classification, nil
}

// passedStop returns true when the bus appears to have moved beyond the stop at index nearest.
// That requires the distance to it to have grown since the previous fix, and the next stop to lie ahead of the bus
// rather than behind the nearest stop. A bus with no previous distance, or the same distance, is still approaching.
func (c *Classifier) passedStop(ctx context.Context,
	position routing.Coordinate,
	distances []StopDistance,
	nearest int,
	history map[int]float64) bool {

	current := distances[nearest]
	previous, seen := history[current.Stop.Sequence]
	if !seen || current.Result.DistanceMeters <= previous {
		return false
	}
	if nearest+1 >= len(distances) {
		//final stop has no successor to move on to
		return false
	}
	next := distances[nearest+1]
	leg := c.provider.Distance(ctx, current.Stop.Coordinate, next.Stop.Coordinate, 0)
	throughNearest := current.Result.DistanceMeters + leg.DistanceMeters
	return throughNearest > c.passedDetourRatio*next.Result.DistanceMeters
}
