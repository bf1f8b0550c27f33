package stopprogress

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/routing"
)

// Config holds the thresholds used by Tracker
type Config struct {
	AtStopThresholdMeters float64
	PassedDetourRatio     float64
	Arrival               ArrivalThresholds
}

// DefaultConfig returns Config with standard thresholds
func DefaultConfig() Config {
	return Config{
		AtStopThresholdMeters: DefaultAtStopThresholdMeters,
		PassedDetourRatio:     DefaultPassedDetourRatio,
		Arrival:               DefaultArrivalThresholds(),
	}
}

// Metrics receives counts from Tracker, implementations must be safe for concurrent use
type Metrics interface {
	FixProcessed(advanced bool, degraded bool)
	FixRejected()
	ActiveTrips(count int)
}

// Fix is a GPS position reported by a bus
type Fix struct {
	Coordinate routing.Coordinate `json:"coordinate"`
	//SpeedKmh is the reported speed, zero when unknown
	SpeedKmh  float64   `json:"speed_kmh"`
	Timestamp time.Time `json:"timestamp"`
}

// FixResult is the outcome of processing a Fix. AcceptedSequence is the value to persist for the bus
type FixResult struct {
	BusId            string    `json:"bus_id"`
	RouteId          string    `json:"route_id"`
	AcceptedSequence int       `json:"current_stop_sequence"`
	AtStop           bool      `json:"at_stop"`
	Changed          bool      `json:"changed"`
	State            TripState `json:"state"`
	//DistanceMeters and EtaMinutes describe travel to the stop at AcceptedSequence when it was considered
	DistanceMeters float64   `json:"distance_meters"`
	EtaMinutes     float64   `json:"eta_minutes"`
	Degraded       bool      `json:"degraded"`
	Timestamp      time.Time `json:"timestamp"`
	//Position is the trip state as stored by this fix, before any later fix, trip start or end
	Position BusPosition `json:"-"`
}

// Tracker owns the trip state of every bus. Fixes for one bus are processed one at a time,
// different buses proceed in parallel and reads never wait on distance queries.
type Tracker struct {
	log        *log.Logger
	provider   routing.Provider
	classifier *Classifier
	cfg        Config
	trips      *tripStore
	metrics    Metrics
	now        func() time.Time
}

// NewTracker builds Tracker, metrics may be nil
func NewTracker(log *log.Logger, provider routing.Provider, cfg Config, metrics Metrics) *Tracker {
	return &Tracker{
		log:        log,
		provider:   provider,
		classifier: NewClassifier(provider, cfg.AtStopThresholdMeters, cfg.PassedDetourRatio),
		cfg:        cfg,
		trips:      makeTripStore(),
		metrics:    metrics,
		now:        time.Now,
	}
}

// StartTrip puts busId at sequence zero of route regardless of any previous trip.
// The route's stops are copied, later changes to them only apply to the next trip
func (t *Tracker) StartTrip(busId string, route Route) (BusPosition, error) {
	if err := route.Validate(); err != nil {
		return BusPosition{}, err
	}
	trip := t.trips.getOrMake(busId)
	trip.work.Lock()
	position := trip.begin(route, t.now())
	trip.work.Unlock()

	t.log.Printf("Bus %s started trip on route %s with %d stops", busId, route.RouteId, len(route.Stops))
	t.reportActiveTrips()
	return position, nil
}

// EndTrip returns busId to Idle. Fixes are rejected until the next StartTrip
func (t *Tracker) EndTrip(busId string) (BusPosition, error) {
	trip := t.trips.get(busId)
	if trip == nil {
		return BusPosition{}, fmt.Errorf("ending trip for bus %s: %w", busId, ErrNoActiveTrip)
	}
	trip.work.Lock()
	defer trip.work.Unlock()
	if trip.position().State == Idle {
		return BusPosition{}, fmt.Errorf("ending trip for bus %s: %w", busId, ErrNoActiveTrip)
	}
	position := trip.finish(t.now())
	t.log.Printf("Bus %s ended trip on route %s at stop sequence %d", busId, position.RouteId, position.Sequence)
	t.reportActiveTrips()
	return position, nil
}

// ResumeTrip restores a trip that was in progress before a restart, at the persisted sequence.
// startedAt is when the trip originally started, zero uses the current time.
// If the bus already has an active trip on the same route the higher sequence is kept
func (t *Tracker) ResumeTrip(busId string,
	route Route,
	sequence int,
	coordinate *routing.Coordinate,
	startedAt time.Time) (BusPosition, error) {
	if err := route.Validate(); err != nil {
		return BusPosition{}, err
	}
	if sequence < 0 || sequence > route.FinalSequence() {
		return BusPosition{}, fmt.Errorf("%w: sequence %d outside of route %s", ErrInvalidRoute, sequence, route.RouteId)
	}
	trip := t.trips.getOrMake(busId)
	trip.work.Lock()
	defer trip.work.Unlock()

	current := trip.position()
	if current.State != Idle && current.RouteId == route.RouteId && current.Sequence >= sequence {
		return current, nil
	}
	trip.begin(route, t.now())
	trip.mu.Lock()
	if !startedAt.IsZero() {
		trip.startedAt = startedAt
	}
	trip.sequence = sequence
	trip.state = stateFor(&trip.route, sequence)
	if coordinate != nil {
		c := *coordinate
		trip.coordinate = &c
	}
	position := trip.positionLocked()
	trip.mu.Unlock()

	t.log.Printf("Bus %s resumed trip on route %s at stop sequence %d", busId, route.RouteId, sequence)
	t.reportActiveTrips()
	return position, nil
}

// ProcessFix classifies fix against the bus's route and returns the accepted stop sequence.
// Returns ErrNoActiveTrip when the bus has no trip in progress
func (t *Tracker) ProcessFix(ctx context.Context, busId string, fix Fix) (FixResult, error) {
	trip := t.trips.get(busId)
	if trip == nil {
		t.rejected()
		return FixResult{}, fmt.Errorf("fix for bus %s: %w", busId, ErrNoActiveTrip)
	}
	trip.work.Lock()
	defer trip.work.Unlock()

	trip.mu.RLock()
	state := trip.state
	lastSequence := trip.sequence
	route := trip.route
	history := trip.history
	trip.mu.RUnlock()

	if state == Idle {
		t.rejected()
		return FixResult{}, fmt.Errorf("fix for bus %s: %w", busId, ErrNoActiveTrip)
	}

	classification, err := t.classifier.Classify(ctx, lastSequence, route.Stops, fix.Coordinate, history)
	if err != nil {
		return FixResult{}, fmt.Errorf("classifying fix for bus %s: %w", busId, err)
	}
	accepted, changed := Accept(lastSequence, classification.Sequence)
	//the at stop flag only applies when it describes the accepted stop
	atStop := classification.AtStop && classification.Sequence == accepted

	at := fix.Timestamp
	if at.IsZero() {
		at = t.now()
	}
	coordinate := fix.Coordinate

	trip.mu.Lock()
	trip.sequence = accepted
	trip.atStop = atStop
	trip.coordinate = &coordinate
	trip.speedKmh = fix.SpeedKmh
	trip.lastFixAt = at
	trip.history = classification.history()
	if changed {
		trip.updatedAt = at
	}
	trip.state = stateFor(&route, accepted)
	position := trip.positionLocked()
	trip.mu.Unlock()

	result := FixResult{
		BusId:            busId,
		RouteId:          route.RouteId,
		AcceptedSequence: accepted,
		AtStop:           atStop,
		Changed:          changed,
		State:            position.State,
		Degraded:         classification.Degraded(),
		Timestamp:        at,
		Position:         position,
	}
	if target, present := classification.Lookup(accepted); present {
		result.DistanceMeters = target.DistanceMeters
		result.EtaMinutes = target.DurationMinutes()
	}
	if changed {
		t.log.Printf("Bus %s on route %s moved from stop sequence %d to %d, at stop:%t",
			busId, route.RouteId, lastSequence, accepted, atStop)
	} else if classification.Sequence < lastSequence {
		t.log.Printf("Bus %s on route %s held at stop sequence %d, position suggested %d",
			busId, route.RouteId, lastSequence, classification.Sequence)
	}
	if t.metrics != nil {
		t.metrics.FixProcessed(changed, result.Degraded)
	}
	return result, nil
}

// Position returns the current trip state of busId
func (t *Tracker) Position(busId string) (BusPosition, bool) {
	trip := t.trips.get(busId)
	if trip == nil {
		return BusPosition{}, false
	}
	return trip.position(), true
}

// Positions returns the trip state of every known bus ordered by bus id
func (t *Tracker) Positions() []BusPosition {
	trips := t.trips.list()
	result := make([]BusPosition, 0, len(trips))
	for _, trip := range trips {
		result = append(result, trip.position())
	}
	return result
}

// StopQuery identifies a stop for QueryArrivals.
// Sequences maps each route serving the stop to the stop's sequence on that route
type StopQuery struct {
	StopId     string
	Coordinate routing.Coordinate
	Sequences  map[string]int
}

// Arrival describes a bus heading to a stop
type Arrival struct {
	BusId          string        `json:"bus_id"`
	RouteId        string        `json:"route_id"`
	Sequence       int           `json:"current_stop_sequence"`
	DistanceMeters float64       `json:"distance_meters"`
	EtaMinutes     float64       `json:"eta_minutes"`
	Status         ArrivalStatus `json:"arrival_status"`
	Degraded       bool          `json:"degraded"`
}

// QueryArrivals returns the buses among busIds that haven't passed the stop, with their distance, ETA and
// ArrivalStatus, soonest first. A nil busIds considers every known bus.
// Buses without an active trip, without a reported position, on a route that doesn't serve the stop, or whose
// sequence is beyond the stop's sequence, are dropped before any distance is requested.
func (t *Tracker) QueryArrivals(ctx context.Context, stop StopQuery, busIds []string) []Arrival {
	candidates := t.arrivalCandidates(stop, busIds)

	arrivals := make([]Arrival, len(candidates))
	wg := sync.WaitGroup{}
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate BusPosition) {
			defer wg.Done()
			result := t.provider.Distance(ctx, *candidate.Coordinate, stop.Coordinate, candidate.SpeedKmh)
			arrivals[i] = t.makeArrival(candidate, result)
		}(i, candidate)
	}
	wg.Wait()

	sort.SliceStable(arrivals, func(i, j int) bool {
		return arrivals[i].EtaMinutes < arrivals[j].EtaMinutes
	})
	return arrivals
}

// arrivalCandidates collects positions of buses that may still arrive at stop
func (t *Tracker) arrivalCandidates(stop StopQuery, busIds []string) []BusPosition {
	var positions []BusPosition
	if busIds == nil {
		positions = t.Positions()
	} else {
		for _, busId := range busIds {
			if position, present := t.Position(busId); present {
				positions = append(positions, position)
			}
		}
	}
	candidates := make([]BusPosition, 0, len(positions))
	for _, position := range positions {
		if position.State == Idle || position.Coordinate == nil {
			continue
		}
		stopSequence, serves := stop.Sequences[position.RouteId]
		if !serves || position.Sequence > stopSequence {
			continue
		}
		candidates = append(candidates, position)
	}
	return candidates
}

// makeArrival builds Arrival from distance result, arrived buses report no remaining distance or time
func (t *Tracker) makeArrival(position BusPosition, result routing.Result) Arrival {
	arrival := Arrival{
		BusId:          position.BusId,
		RouteId:        position.RouteId,
		Sequence:       position.Sequence,
		DistanceMeters: result.DistanceMeters,
		EtaMinutes:     result.DurationMinutes(),
		Status:         t.cfg.Arrival.Classify(result, result.DurationMinutes()),
		Degraded:       result.Degraded,
	}
	if arrival.Status == Arrived {
		arrival.DistanceMeters = 0
		arrival.EtaMinutes = 0
	}
	return arrival
}

// UpcomingStop is a stop ahead of a bus with the cumulative distance and ETA to reach it
type UpcomingStop struct {
	StopId         string        `json:"stop_id"`
	Name           string        `json:"name,omitempty"`
	Sequence       int           `json:"sequence"`
	DistanceMeters float64       `json:"distance_meters"`
	EtaMinutes     float64       `json:"eta_minutes"`
	Status         ArrivalStatus `json:"arrival_status"`
	Degraded       bool          `json:"degraded"`
}

// UpcomingStops lists the stops busId has still to reach in route order using a single chained distance query.
// The stop at the current sequence is included unless the bus is at it
func (t *Tracker) UpcomingStops(ctx context.Context, busId string) ([]UpcomingStop, error) {
	trip := t.trips.get(busId)
	if trip == nil {
		return nil, fmt.Errorf("upcoming stops for bus %s: %w", busId, ErrNoActiveTrip)
	}
	trip.mu.RLock()
	position := trip.positionLocked()
	route := trip.route
	trip.mu.RUnlock()

	if position.State == Idle {
		return nil, fmt.Errorf("upcoming stops for bus %s: %w", busId, ErrNoActiveTrip)
	}
	if position.Coordinate == nil {
		return nil, fmt.Errorf("upcoming stops for bus %s: %w", busId, ErrNoFix)
	}

	var stops []RouteStop
	for _, stop := range route.Stops {
		if stop.Sequence > position.Sequence || (stop.Sequence == position.Sequence && !position.AtStop) {
			stops = append(stops, stop)
		}
	}
	if len(stops) == 0 {
		return []UpcomingStop{}, nil
	}
	waypoints := make([]routing.Coordinate, len(stops))
	for i, stop := range stops {
		waypoints[i] = stop.Coordinate
	}
	results := t.provider.Chain(ctx, *position.Coordinate, waypoints, position.SpeedKmh)

	upcoming := make([]UpcomingStop, len(stops))
	for i, stop := range stops {
		result := results[i]
		upcoming[i] = UpcomingStop{
			StopId:         stop.StopId,
			Name:           stop.Name,
			Sequence:       stop.Sequence,
			DistanceMeters: result.DistanceMeters,
			EtaMinutes:     result.DurationMinutes(),
			Status:         t.cfg.Arrival.Classify(result, result.DurationMinutes()),
			Degraded:       result.Degraded,
		}
	}
	return upcoming, nil
}

func (t *Tracker) rejected() {
	if t.metrics != nil {
		t.metrics.FixRejected()
	}
}

// reportActiveTrips sends the number of buses not Idle to metrics
func (t *Tracker) reportActiveTrips() {
	if t.metrics == nil {
		return
	}
	count := 0
	for _, position := range t.Positions() {
		if position.State != Idle {
			count++
		}
	}
	t.metrics.ActiveTrips(count)
}
