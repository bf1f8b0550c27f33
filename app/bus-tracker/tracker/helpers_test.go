package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
)

type testLogWriter struct {
	mu       sync.Mutex
	logLines []string
	log      *log.Logger
}

func makeTestLogWriter() *testLogWriter {
	logWriter := testLogWriter{
		logLines: make([]string, 0),
	}
	logWriter.log = log.New(&logWriter, "BUS_TRACKER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return &logWriter
}

func (t *testLogWriter) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logLines = append(t.logLines, string(p))
	return len(p), nil
}

func (t *testLogWriter) contains(s string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range t.logLines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// memoryStore implements Store in memory, applying the same write guards as the database
type memoryStore struct {
	mu        sync.Mutex
	routes    map[string]stopprogress.Route
	positions map[string]*transit.BusPosition
	failWrite bool
	//beforeWrite runs at the start of RecordPosition when set
	beforeWrite func()
}

func makeMemoryStore(routes ...stopprogress.Route) *memoryStore {
	store := &memoryStore{
		routes:    make(map[string]stopprogress.Route),
		positions: make(map[string]*transit.BusPosition),
	}
	for _, route := range routes {
		store.routes[route.RouteId] = route
	}
	return store
}

func (m *memoryStore) RouteStops(_ context.Context, routeId string) (stopprogress.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	route, present := m.routes[routeId]
	if !present {
		return stopprogress.Route{}, fmt.Errorf("%w: %s", transit.ErrRouteNotFound, routeId)
	}
	return route, nil
}

func (m *memoryStore) StopRoutes(_ context.Context, stopId string, routeIds []string) (stopprogress.StopQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool)
	for _, routeId := range routeIds {
		wanted[routeId] = true
	}
	var rows []*transit.RouteStop
	for routeId, route := range m.routes {
		if len(wanted) > 0 && !wanted[routeId] {
			continue
		}
		for _, stop := range route.Stops {
			if stop.StopId == stopId {
				rows = append(rows, &transit.RouteStop{
					RouteId:      routeId,
					StopId:       stopId,
					StopSequence: stop.Sequence,
					StopLat:      stop.Coordinate.Latitude,
					StopLon:      stop.Coordinate.Longitude,
				})
			}
		}
	}
	return transit.MakeStopQuery(stopId, rows)
}

func (m *memoryStore) ActivePositions(_ context.Context) ([]*transit.BusPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*transit.BusPosition
	for _, position := range m.positions {
		if position.TripState != stopprogress.Idle.String() {
			result = append(result, position)
		}
	}
	return result, nil
}

func (m *memoryStore) RecordPosition(_ context.Context, position *transit.BusPosition) error {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("database is gone")
	}
	if transit.ReplacesPosition(m.positions[position.BusId], position) {
		m.positions[position.BusId] = position
	}
	return nil
}

func (m *memoryStore) RecordTripStart(_ context.Context, busId string, routeId string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, present := m.positions[busId]; present && stored.TripStartedAt.After(startedAt) {
		return nil
	}
	m.positions[busId] = &transit.BusPosition{
		BusId:         busId,
		RouteId:       routeId,
		TripState:     stopprogress.InProgress.String(),
		RecordedAt:    startedAt,
		UpdatedAt:     startedAt,
		TripStartedAt: startedAt,
	}
	return nil
}

func (m *memoryStore) RecordTripEnd(_ context.Context, busId string, startedAt time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	position, present := m.positions[busId]
	if !present || !position.TripStartedAt.Equal(startedAt) {
		return fmt.Errorf("%w: %s", transit.ErrBusNotFound, busId)
	}
	position.TripState = stopprogress.Idle.String()
	position.RecordedAt = at
	return nil
}

func (m *memoryStore) position(busId string) *transit.BusPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[busId]
}

// fakePublisher records published messages
type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	fail     bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return io.ErrClosedPipe
	}
	if f.messages == nil {
		f.messages = make(map[string][][]byte)
	}
	f.messages[subject] = append(f.messages[subject], data)
	return nil
}

func (f *fakePublisher) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[subject])
}

const testProgressSubject = "bus-stop-progress"

// testRoute has stops along the equator roughly 1112 meters apart
func testRoute() stopprogress.Route {
	return stopprogress.Route{
		RouteId: "r1",
		Stops: []stopprogress.RouteStop{
			{StopId: "A", Sequence: 1, Name: "First", Coordinate: routing.Coordinate{Longitude: 0, Latitude: 0}},
			{StopId: "B", Sequence: 2, Name: "Second", Coordinate: routing.Coordinate{Longitude: 0.01, Latitude: 0}},
			{StopId: "C", Sequence: 3, Name: "Third", Coordinate: routing.Coordinate{Longitude: 0.02, Latitude: 0}},
		},
	}
}

// makeTestService builds busService over the straight line estimator so distances are deterministic
func makeTestService(store *memoryStore, publisher *fakePublisher, metrics *Collector) (*busService, *testLogWriter) {
	logWriter := makeTestLogWriter()
	estimator := routing.NewEstimator(1, 36)
	var queryMetrics routing.QueryMetrics
	var trackerMetrics stopprogress.Metrics
	if metrics != nil {
		queryMetrics = metrics
		trackerMetrics = metrics
	}
	provider := routing.NewFallback(logWriter.log, nil, estimator, queryMetrics)
	stopTracker := stopprogress.NewTracker(logWriter.log, provider, stopprogress.DefaultConfig(), trackerMetrics)
	var messages messagePublisher
	if publisher != nil {
		messages = publisher
	}
	service := makeBusService(logWriter.log, stopTracker, store,
		makeProgressPublisher(logWriter.log, store, messages, testProgressSubject, metrics))
	return service, logWriter
}
