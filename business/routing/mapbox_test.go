package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

// mapboxStub imitates the directions and matrix endpoints. Every leg is legMeters long and takes legSeconds
type mapboxStub struct {
	mu         sync.Mutex
	requests   []*http.Request
	legMeters  float64
	legSeconds float64
	status     int
	body       string
	delay      time.Duration
}

func (m *mapboxStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.status != 0 {
		w.WriteHeader(m.status)
	}
	if len(m.body) > 0 {
		_, _ = w.Write([]byte(m.body))
		return
	}
	segments := strings.Split(r.URL.Path, "/")
	count := strings.Count(segments[len(segments)-1], ";") + 1

	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/directions-matrix/") {
		distances := make([]*float64, count)
		durations := make([]*float64, count)
		for i := 0; i < count; i++ {
			d := m.legMeters * float64(i)
			s := m.legSeconds * float64(i)
			distances[i] = &d
			durations[i] = &s
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code":      "Ok",
			"distances": [][]*float64{distances},
			"durations": [][]*float64{durations},
		})
		return
	}
	legs := make([]map[string]float64, count-1)
	for i := range legs {
		legs[i] = map[string]float64{"distance": m.legMeters, "duration": m.legSeconds}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code": "Ok",
		"routes": []map[string]interface{}{{
			"distance": m.legMeters * float64(count-1),
			"duration": m.legSeconds * float64(count-1),
			"legs":     legs,
		}},
	})
}

func (m *mapboxStub) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newTestMapbox(stub *mapboxStub, timeout time.Duration) (*Mapbox, func()) {
	server := httptest.NewServer(stub)
	mapbox := NewMapbox(MapboxConfig{
		BaseURL:     server.URL,
		AccessToken: "secret-token",
		Timeout:     timeout,
	})
	return mapbox, server.Close
}

func testWaypoints(count int) []Coordinate {
	waypoints := make([]Coordinate, count)
	for i := range waypoints {
		waypoints[i] = Coordinate{Longitude: -122.6765 + float64(i)*0.001, Latitude: 45.5231}
	}
	return waypoints
}

func TestMapbox_Route(t *testing.T) {
	is := is.New(t)
	stub := &mapboxStub{legMeters: 1234, legSeconds: 180}
	mapbox, closeServer := newTestMapbox(stub, time.Second)
	defer closeServer()

	got, err := mapbox.Route(context.Background(), testOrigin, testDestination)
	is.NoErr(err)
	is.Equal(got, Result{DistanceMeters: 1234, DurationSeconds: 180})

	is.Equal(stub.requestCount(), 1)
	request := stub.requests[0]
	is.Equal(request.URL.Path,
		fmt.Sprintf("/directions/v5/mapbox/driving-traffic/%s;%s", testOrigin, testDestination))
	is.Equal(request.URL.Query().Get("access_token"), "secret-token")
}

func TestMapbox_Errors(t *testing.T) {
	tests := []struct {
		name    string
		stub    *mapboxStub
		timeout time.Duration
	}{
		{
			name:    "server error",
			stub:    &mapboxStub{status: http.StatusInternalServerError, body: "down"},
			timeout: time.Second,
		},
		{
			name:    "unauthorized",
			stub:    &mapboxStub{status: http.StatusUnauthorized, body: `{"message":"Not Authorized"}`},
			timeout: time.Second,
		},
		{
			name:    "no route code",
			stub:    &mapboxStub{body: `{"code":"NoRoute","message":"No route found","routes":[]}`},
			timeout: time.Second,
		},
		{
			name:    "ok without routes",
			stub:    &mapboxStub{body: `{"code":"Ok","routes":[]}`},
			timeout: time.Second,
		},
		{
			name:    "malformed payload",
			stub:    &mapboxStub{body: `{"code":"Ok","routes":[{"distance":`},
			timeout: time.Second,
		},
		{
			name:    "timeout",
			stub:    &mapboxStub{delay: 200 * time.Millisecond, legMeters: 1, legSeconds: 1},
			timeout: 20 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			mapbox, closeServer := newTestMapbox(tt.stub, tt.timeout)
			defer closeServer()

			_, err := mapbox.Route(context.Background(), testOrigin, testDestination)
			is.True(errors.Is(err, ErrProviderUnavailable))
			is.True(!strings.Contains(err.Error(), "secret-token")) // token must not leak into errors
		})
	}
}

func TestMapbox_Legs(t *testing.T) {
	is := is.New(t)
	stub := &mapboxStub{legMeters: 100, legSeconds: 20}
	mapbox, closeServer := newTestMapbox(stub, time.Second)
	defer closeServer()

	results, err := mapbox.Legs(context.Background(), testOrigin, testWaypoints(30))
	is.NoErr(err)
	is.Equal(len(results), 30)
	is.Equal(stub.requestCount(), 2) // 31 coordinates need two directions requests
	for i, result := range results {
		is.Equal(result.DistanceMeters, 100*float64(i+1))
		is.Equal(result.DurationSeconds, 20*float64(i+1))
	}
}

func TestMapbox_Matrix(t *testing.T) {
	is := is.New(t)
	stub := &mapboxStub{legMeters: 250, legSeconds: 45}
	mapbox, closeServer := newTestMapbox(stub, time.Second)
	defer closeServer()

	results, err := mapbox.Matrix(context.Background(), testOrigin, testWaypoints(12))
	is.NoErr(err)
	is.Equal(len(results), 12)
	is.Equal(stub.requestCount(), 2) // driving-traffic matrices are limited to 10 coordinates
	is.Equal(stub.requests[0].URL.Query().Get("sources"), "0")
	//each batch restarts its column numbering
	is.Equal(results[0].DistanceMeters, 250.0)
	is.Equal(results[8].DistanceMeters, 250*9.0)
	is.Equal(results[9].DistanceMeters, 250.0)
}

func TestMapbox_MatrixNullCell(t *testing.T) {
	is := is.New(t)
	stub := &mapboxStub{body: `{"code":"Ok","distances":[[0,null]],"durations":[[0,null]]}`}
	mapbox, closeServer := newTestMapbox(stub, time.Second)
	defer closeServer()

	_, err := mapbox.Matrix(context.Background(), testOrigin, []Coordinate{testDestination})
	is.True(errors.Is(err, ErrProviderUnavailable))
}

func TestCachedSource_Route(t *testing.T) {
	is := is.New(t)
	source := &fakeSource{result: Result{DistanceMeters: 1000, DurationSeconds: 100}}
	cached := NewCachedSource(source, 10, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := cached.Route(context.Background(), testOrigin, testDestination)
		is.NoErr(err)
		is.Equal(got.DistanceMeters, 1000.0)
	}
	is.Equal(source.calls, 1)

	_, err := cached.Route(context.Background(), testDestination, testOrigin)
	is.NoErr(err)
	is.Equal(source.calls, 2) // reverse direction is its own entry

	failing := &fakeSource{fail: true}
	cached = NewCachedSource(failing, 10, time.Minute)
	for i := 0; i < 2; i++ {
		_, err = cached.Route(context.Background(), testOrigin, testDestination)
		is.True(errors.Is(err, ErrProviderUnavailable))
	}
	is.Equal(failing.calls, 2) // failures are never cached
}
