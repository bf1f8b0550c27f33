// Package routeloader builds the stop ordering of every route in a gtfs schedule and records it to route_stop
package routeloader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/foundation/httpclient"
	"github.com/jmoiron/sqlx"
)

// LoadRoutes reads the gtfs zip at source, a url or local path, and replaces route_stop rows of every route in it.
// Returns the number of routes recorded
func LoadRoutes(ctx context.Context, log *log.Logger, db *sqlx.DB, client *http.Client, source string) (int, error) {
	zipReader, err := openSchedule(ctx, client, source)
	if err != nil {
		return 0, err
	}
	routes, err := BuildRoutes(log, zipReader)
	if err != nil {
		return 0, err
	}
	for _, routeId := range sortedRouteIds(routes) {
		if err = transit.RecordRouteStops(ctx, db, routeId, routes[routeId]); err != nil {
			return 0, err
		}
		log.Printf("Recorded %d stops on route %s\n", len(routes[routeId]), routeId)
	}
	return len(routes), nil
}

// ShowRoute logs the recorded stops of routeId
func ShowRoute(ctx context.Context, log *log.Logger, db *sqlx.DB, routeId string) error {
	route, err := transit.GetRouteStops(ctx, db, routeId)
	if err != nil {
		return err
	}
	log.Printf("Route %s has %d stops\n", route.RouteId, len(route.Stops))
	for _, stop := range route.Stops {
		log.Printf("%4d %-12s %10.6f,%10.6f %s\n", stop.Sequence, stop.StopId,
			stop.Coordinate.Longitude, stop.Coordinate.Latitude, stop.Name)
	}
	return nil
}

// openSchedule retrieves the gtfs zip over http when source is a url, otherwise reads it from disk
func openSchedule(ctx context.Context, client *http.Client, source string) (*zip.Reader, error) {
	var data []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = httpclient.GetBytes(ctx, client, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve gtfs schedule: %w", err)
	}
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to open gtfs schedule: %w", err)
	}
	return zipReader, nil
}

// gtfsFiles holds the gtfs files needed to order route stops
type gtfsFiles struct {
	stopFile     *zip.File
	tripFile     *zip.File
	stopTimeFile *zip.File
}

// newGTFSFiles finds the needed files in zipReader, returns error if any are missing
func newGTFSFiles(zipReader *zip.Reader) (*gtfsFiles, error) {
	files := gtfsFiles{}
	for _, f := range zipReader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch f.Name {
		case "stops.txt":
			files.stopFile = f
		case "trips.txt":
			files.tripFile = f
		case "stop_times.txt":
			files.stopTimeFile = f
		}
	}
	missingFileNames := make([]string, 0)
	if files.stopFile == nil {
		missingFileNames = append(missingFileNames, "stops.txt")
	}
	if files.tripFile == nil {
		missingFileNames = append(missingFileNames, "trips.txt")
	}
	if files.stopTimeFile == nil {
		missingFileNames = append(missingFileNames, "stop_times.txt")
	}
	if len(missingFileNames) > 0 {
		return nil, fmt.Errorf("gtfs zip file is missing the following file(s) %s",
			strings.Join(missingFileNames, ","))
	}
	return &files, nil
}

// BuildRoutes orders the stops of each route in the gtfs zip. The trip with the most stops stands for its route,
// ties go to the lowest trip_id. Stops are renumbered from 1 in stop_sequence order
func BuildRoutes(log *log.Logger, zipReader *zip.Reader) (map[string][]*transit.RouteStop, error) {
	files, err := newGTFSFiles(zipReader)
	if err != nil {
		return nil, err
	}
	stopRR := newStopRowReader()
	if err = loadGTFSFile(log, stopRR, files.stopFile); err != nil {
		return nil, err
	}
	tripRR := newTripRowReader()
	if err = loadGTFSFile(log, tripRR, files.tripFile); err != nil {
		return nil, err
	}
	countRR := newStopTimeCountReader()
	if err = loadGTFSFile(log, countRR, files.stopTimeFile); err != nil {
		return nil, err
	}

	chosen := chooseTrips(tripRR.trips, countRR.counts)
	wanted := make(map[string]bool, len(chosen))
	for _, tripId := range chosen {
		wanted[tripId] = true
	}
	stopTimeRR := newStopTimeRowReader(wanted)
	if err = loadGTFSFile(log, stopTimeRR, files.stopTimeFile); err != nil {
		return nil, err
	}

	routes := make(map[string][]*transit.RouteStop, len(chosen))
	for routeId, tripId := range chosen {
		routeStops, err := makeRouteStops(routeId, stopTimeRR.stopTimes[tripId], stopRR.stops)
		if err != nil {
			return nil, fmt.Errorf("building route %s from trip %s: %w", routeId, tripId, err)
		}
		routes[routeId] = routeStops
	}
	return routes, nil
}

// chooseTrips picks the trip standing for each route key
func chooseTrips(trips map[string]gtfsTrip, counts map[string]int) map[string]string {
	chosen := make(map[string]string)
	for tripId, trip := range trips {
		count := counts[tripId]
		if count == 0 {
			continue
		}
		key := trip.routeKey()
		current, present := chosen[key]
		if !present || count > counts[current] || count == counts[current] && tripId < current {
			chosen[key] = tripId
		}
	}
	return chosen
}

// makeRouteStops orders stopTimes and joins them with their stops
func makeRouteStops(routeId string, stopTimes []gtfsStopTime, stops map[string]gtfsStop) ([]*transit.RouteStop, error) {
	ordered := make([]gtfsStopTime, len(stopTimes))
	copy(ordered, stopTimes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StopSequence < ordered[j].StopSequence
	})
	routeStops := make([]*transit.RouteStop, len(ordered))
	for i, stopTime := range ordered {
		if i > 0 && stopTime.StopSequence == ordered[i-1].StopSequence {
			return nil, fmt.Errorf("stop_sequence %d repeats", stopTime.StopSequence)
		}
		stop, present := stops[stopTime.StopId]
		if !present {
			return nil, fmt.Errorf("stop_times.txt references stop %s without a location", stopTime.StopId)
		}
		routeStops[i] = &transit.RouteStop{
			RouteId:      routeId,
			StopId:       stop.StopId,
			StopSequence: i + 1,
			StopName:     stop.Name,
			StopLat:      stop.Lat,
			StopLon:      stop.Lon,
		}
	}
	return routeStops, nil
}

func sortedRouteIds(routes map[string][]*transit.RouteStop) []string {
	routeIds := make([]string, 0, len(routes))
	for routeId := range routes {
		routeIds = append(routeIds, routeId)
	}
	sort.Strings(routeIds)
	return routeIds
}
