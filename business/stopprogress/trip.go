package stopprogress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/routing"
)

// TripState is where a bus is in its trip lifecycle
type TripState int

const (
	// Idle buses have no active trip, fixes are rejected with ErrNoActiveTrip
	Idle TripState = iota
	// InProgress buses are moving along their route
	InProgress
	// AtFinalStop buses have reached the last stop of their route and hold its sequence until the trip ends
	AtFinalStop
)

// String implements Stringer for TripState
func (s TripState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case AtFinalStop:
		return "at_final_stop"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s TripState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *TripState) UnmarshalText(text []byte) error {
	state, err := ParseTripState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParseTripState converts the String form of a TripState back to TripState
func ParseTripState(value string) (TripState, error) {
	switch value {
	case "idle":
		return Idle, nil
	case "in_progress":
		return InProgress, nil
	case "at_final_stop":
		return AtFinalStop, nil
	}
	return Idle, fmt.Errorf("unknown trip state %q", value)
}

// BusPosition is a point in time copy of a bus's trip state
type BusPosition struct {
	BusId    string    `json:"bus_id"`
	RouteId  string    `json:"route_id"`
	State    TripState `json:"state"`
	Sequence int       `json:"current_stop_sequence"`
	//FinalSequence is the sequence of the route's last stop
	FinalSequence int                 `json:"final_stop_sequence"`
	AtStop        bool                `json:"at_stop"`
	Coordinate    *routing.Coordinate `json:"coordinate,omitempty"`
	SpeedKmh      float64             `json:"speed_kmh"`
	//UpdatedAt is when Sequence last changed
	UpdatedAt time.Time `json:"updated_at"`
	//LastFixAt is the time of the last accepted fix, zero if none has been seen
	LastFixAt time.Time `json:"last_fix_at"`
	//TripStartedAt identifies the trip, it is kept after the trip ends
	TripStartedAt time.Time `json:"trip_started_at"`
}

// busTrip holds the trip state of one bus.
// work is held for a whole classify and accept cycle, and by trip start and end, so at most one of those runs per bus.
// mu guards the fields and is only held to copy them out or to store results, never during distance queries.
type busTrip struct {
	work sync.Mutex

	mu         sync.RWMutex
	busId      string
	state      TripState
	route      Route
	sequence   int
	atStop     bool
	coordinate *routing.Coordinate
	speedKmh   float64
	history    map[int]float64
	updatedAt  time.Time
	lastFixAt  time.Time
	startedAt  time.Time
}

// position returns a BusPosition copy of the trip, caller must not hold mu
func (b *busTrip) position() BusPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positionLocked()
}

// positionLocked returns a BusPosition copy of the trip, caller must hold mu
func (b *busTrip) positionLocked() BusPosition {
	p := BusPosition{
		BusId:         b.busId,
		RouteId:       b.route.RouteId,
		State:         b.state,
		Sequence:      b.sequence,
		FinalSequence: b.route.FinalSequence(),
		AtStop:        b.atStop,
		SpeedKmh:      b.speedKmh,
		UpdatedAt:     b.updatedAt,
		LastFixAt:     b.lastFixAt,
		TripStartedAt: b.startedAt,
	}
	if b.coordinate != nil {
		c := *b.coordinate
		p.Coordinate = &c
	}
	return p
}

// begin resets the trip to sequence zero on route. This is the only way a sequence moves backwards.
// caller must hold work
func (b *busTrip) begin(route Route, at time.Time) BusPosition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = InProgress
	b.route = route.snapshot()
	b.sequence = 0
	b.atStop = false
	b.coordinate = nil
	b.speedKmh = 0
	b.history = nil
	b.updatedAt = at
	b.lastFixAt = time.Time{}
	b.startedAt = at
	return b.positionLocked()
}

// finish ends the trip, caller must hold work
func (b *busTrip) finish(at time.Time) BusPosition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Idle
	b.atStop = false
	b.history = nil
	b.updatedAt = at
	return b.positionLocked()
}

// stateFor returns InProgress or AtFinalStop for sequence on route
func stateFor(route *Route, sequence int) TripState {
	if sequence >= route.FinalSequence() {
		return AtFinalStop
	}
	return InProgress
}

// tripStore maps bus ids to their busTrip
type tripStore struct {
	mu    sync.RWMutex
	trips map[string]*busTrip
}

func makeTripStore() *tripStore {
	return &tripStore{trips: make(map[string]*busTrip)}
}

// get returns the busTrip for busId or nil if the bus has never started a trip
func (s *tripStore) get(busId string) *busTrip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trips[busId]
}

// getOrMake returns the busTrip for busId, creating an idle one when missing
func (s *tripStore) getOrMake(busId string) *busTrip {
	if trip := s.get(busId); trip != nil {
		return trip
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if trip, present := s.trips[busId]; present {
		return trip
	}
	trip := &busTrip{busId: busId}
	s.trips[busId] = trip
	return trip
}

// list returns all busTrips ordered by bus id
func (s *tripStore) list() []*busTrip {
	s.mu.RLock()
	result := make([]*busTrip, 0, len(s.trips))
	for _, trip := range s.trips {
		result = append(result, trip)
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].busId < result[j].busId
	})
	return result
}
