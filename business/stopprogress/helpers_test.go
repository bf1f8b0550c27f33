package stopprogress

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/OpenTransitTools/stoptracker/business/routing"
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
	logWriter.log = log.New(&logWriter, "TRACKER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
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

// lineProvider treats Longitude as meters along a straight road, so distances are exact and easy to reason about.
// Travel time is at speedKmh or 36 km/h (10 meters per second) when no speed is given
type lineProvider struct {
	mu            sync.Mutex
	degraded      bool
	distanceCalls int
	matrixCalls   int
	chainCalls    int
	//block if set is received from before Distances answers
	block chan struct{}
}

func (l *lineProvider) result(origin, destination routing.Coordinate, speedKmh float64) routing.Result {
	meters := math.Abs(destination.Longitude-origin.Longitude) + math.Abs(destination.Latitude-origin.Latitude)
	metersPerSecond := 10.0
	if speedKmh > 0 {
		metersPerSecond = speedKmh / 3.6
	}
	return routing.Result{
		DistanceMeters:  meters,
		DurationSeconds: meters / metersPerSecond,
		Degraded:        l.degraded,
	}
}

func (l *lineProvider) Distance(_ context.Context, origin, destination routing.Coordinate, speedKmh float64) routing.Result {
	l.mu.Lock()
	l.distanceCalls++
	l.mu.Unlock()
	return l.result(origin, destination, speedKmh)
}

func (l *lineProvider) Distances(_ context.Context, origin routing.Coordinate, destinations []routing.Coordinate, speedKmh float64) []routing.Result {
	l.mu.Lock()
	l.matrixCalls++
	block := l.block
	l.mu.Unlock()
	if block != nil {
		<-block
	}
	results := make([]routing.Result, len(destinations))
	for i, destination := range destinations {
		results[i] = l.result(origin, destination, speedKmh)
	}
	return results
}

func (l *lineProvider) Chain(_ context.Context, origin routing.Coordinate, waypoints []routing.Coordinate, speedKmh float64) []routing.Result {
	l.mu.Lock()
	l.chainCalls++
	l.mu.Unlock()
	results := make([]routing.Result, len(waypoints))
	from := origin
	total := routing.Result{Degraded: l.degraded}
	for i, waypoint := range waypoints {
		leg := l.result(from, waypoint, speedKmh)
		total.DistanceMeters += leg.DistanceMeters
		total.DurationSeconds += leg.DurationSeconds
		results[i] = total
		from = waypoint
	}
	return results
}

func (l *lineProvider) counts() (distance, matrix, chain int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.distanceCalls, l.matrixCalls, l.chainCalls
}

type countingMetrics struct {
	mu          sync.Mutex
	processed   int
	advanced    int
	degraded    int
	rejected    int
	activeTrips int
}

func (c *countingMetrics) FixProcessed(advanced bool, degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++
	if advanced {
		c.advanced++
	}
	if degraded {
		c.degraded++
	}
}

func (c *countingMetrics) FixRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
}

func (c *countingMetrics) ActiveTrips(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeTrips = count
}

// at returns a coordinate meters along the test road
func at(meters float64) routing.Coordinate {
	return routing.Coordinate{Longitude: meters}
}

func fixAt(meters float64) Fix {
	return Fix{Coordinate: at(meters)}
}

// lineRoute builds a route with a stop every spacing meters starting at zero, with sequences 1 to count
func lineRoute(routeId string, count int, spacing float64) Route {
	route := Route{RouteId: routeId}
	for i := 0; i < count; i++ {
		route.Stops = append(route.Stops, RouteStop{
			StopId:     routeId + "-" + string(rune('A'+i)),
			Sequence:   i + 1,
			Coordinate: at(float64(i) * spacing),
		})
	}
	return route
}
