package routeloader

import (
	"fmt"
)

// gtfsStop is a stops.txt row with a location
type gtfsStop struct {
	StopId string
	Name   string
	Lat    float64
	Lon    float64
}

// stopRowReader collects stops.txt by stop_id. Stops without a location can't be served by a bus and are skipped
type stopRowReader struct {
	stops map[string]gtfsStop
}

func newStopRowReader() *stopRowReader {
	return &stopRowReader{stops: make(map[string]gtfsStop)}
}

func (s *stopRowReader) addRow(parser *gtfsFileParser) error {
	parser.errors = nil
	stopId := parser.getString("stop_id", false)
	name := parser.getString("stop_name", true)
	lat := parser.getFloat64Pointer("stop_lat", true)
	lon := parser.getFloat64Pointer("stop_lon", true)
	if err := parser.getError(); err != nil {
		return err
	}
	if lat == nil || lon == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return fmt.Errorf("in file %v, line %v: stop %s location %f,%f out of range",
			parser.Filename, parser.line, stopId, *lon, *lat)
	}
	s.stops[stopId] = gtfsStop{StopId: stopId, Name: name, Lat: *lat, Lon: *lon}
	return nil
}

// gtfsTrip is the part of a trips.txt row used to group trips into routes
type gtfsTrip struct {
	TripId      string
	RouteId     string
	DirectionId *string
}

// routeKey is the route id stops are loaded under. Trips with a direction_id get a route per direction
// since a bus only moves forward along a stop ordering
func (t *gtfsTrip) routeKey() string {
	if t.DirectionId == nil {
		return t.RouteId
	}
	return t.RouteId + "_" + *t.DirectionId
}

// tripRowReader collects trips.txt by trip_id
type tripRowReader struct {
	trips map[string]gtfsTrip
}

func newTripRowReader() *tripRowReader {
	return &tripRowReader{trips: make(map[string]gtfsTrip)}
}

func (r *tripRowReader) addRow(parser *gtfsFileParser) error {
	parser.errors = nil
	trip := gtfsTrip{
		TripId:  parser.getString("trip_id", false),
		RouteId: parser.getString("route_id", false),
	}
	if direction := parser.getStringPointer("direction_id", true); direction != nil {
		directionId := *direction
		trip.DirectionId = &directionId
	}
	if err := parser.getError(); err != nil {
		return err
	}
	r.trips[trip.TripId] = trip
	return nil
}

// stopTimeCountReader counts the stop_times.txt rows of each trip
type stopTimeCountReader struct {
	counts map[string]int
}

func newStopTimeCountReader() *stopTimeCountReader {
	return &stopTimeCountReader{counts: make(map[string]int)}
}

func (s *stopTimeCountReader) addRow(parser *gtfsFileParser) error {
	parser.errors = nil
	tripId := parser.getString("trip_id", false)
	if err := parser.getError(); err != nil {
		return err
	}
	s.counts[tripId]++
	return nil
}

// gtfsStopTime is the part of a stop_times.txt row used to order a route's stops
type gtfsStopTime struct {
	StopId       string
	StopSequence int
}

// stopTimeRowReader keeps the stop_times.txt rows of the trips in wanted
type stopTimeRowReader struct {
	wanted    map[string]bool
	stopTimes map[string][]gtfsStopTime
}

func newStopTimeRowReader(wanted map[string]bool) *stopTimeRowReader {
	return &stopTimeRowReader{
		wanted:    wanted,
		stopTimes: make(map[string][]gtfsStopTime),
	}
}

func (s *stopTimeRowReader) addRow(parser *gtfsFileParser) error {
	parser.errors = nil
	tripId := parser.getString("trip_id", false)
	if !s.wanted[tripId] {
		return parser.getError()
	}
	stopTime := gtfsStopTime{
		StopId:       parser.getString("stop_id", false),
		StopSequence: parser.getInt("stop_sequence", false),
	}
	if err := parser.getError(); err != nil {
		return err
	}
	s.stopTimes[tripId] = append(s.stopTimes[tripId], stopTime)
	return nil
}
