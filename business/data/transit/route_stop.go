// Package transit stores route stop orderings and the last accepted position of every bus.
package transit

import (
	"context"
	"errors"
	"fmt"

	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/OpenTransitTools/stoptracker/foundation/database"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrRouteNotFound is returned when a route has no stops recorded
	ErrRouteNotFound = errors.New("route not found")
	// ErrStopNotFound is returned when no route serves a stop
	ErrStopNotFound = errors.New("stop not found")
)

// RouteStop is a row of route_stop, one stop at its place in a route's ordering
type RouteStop struct {
	RouteId      string  `db:"route_id" json:"route_id"`
	StopId       string  `db:"stop_id" json:"stop_id"`
	StopSequence int     `db:"stop_sequence" json:"stop_sequence"`
	StopName     string  `db:"stop_name" json:"stop_name"`
	StopLat      float64 `db:"stop_lat" json:"stop_lat"`
	StopLon      float64 `db:"stop_lon" json:"stop_lon"`
}

// Coordinate returns the stop location in longitude, latitude order
func (r *RouteStop) Coordinate() routing.Coordinate {
	return routing.Coordinate{Longitude: r.StopLon, Latitude: r.StopLat}
}

// RecordRouteStops replaces the stops of routeId with routeStops in one transaction
func RecordRouteStops(ctx context.Context, db *sqlx.DB, routeId string, routeStops []*RouteStop) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction for route %s: %w", routeId, err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind("delete from route_stop where route_id = ?"), routeId)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unable to remove route_stop rows for route %s: %w", routeId, err)
	}
	if len(routeStops) > 0 {
		for _, routeStop := range routeStops {
			routeStop.RouteId = routeId
		}
		statementString := "insert into route_stop (route_id, stop_id, stop_sequence, stop_name, stop_lat, stop_lon) " +
			"values (:route_id, :stop_id, :stop_sequence, :stop_name, :stop_lat, :stop_lon)"
		_, err = tx.NamedExecContext(ctx, tx.Rebind(statementString), routeStops)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("unable to insert route_stop rows for route %s: %w", routeId, err)
		}
	}
	return tx.Commit()
}

// GetRouteStops returns the stops of routeId in sequence order as a stopprogress.Route
func GetRouteStops(ctx context.Context, db *sqlx.DB, routeId string) (stopprogress.Route, error) {
	var routeStops []*RouteStop
	query := "select * from route_stop where route_id = ? order by stop_sequence"
	err := db.SelectContext(ctx, &routeStops, db.Rebind(query), routeId)
	if err != nil {
		return stopprogress.Route{}, fmt.Errorf("unable to retrieve route_stop rows for route %s: %w", routeId, err)
	}
	if len(routeStops) == 0 {
		return stopprogress.Route{}, fmt.Errorf("%w: %s", ErrRouteNotFound, routeId)
	}
	return MakeRoute(routeId, routeStops), nil
}

// GetStopRoutes returns where stopId sits on every route serving it, optionally limited to routeIds
func GetStopRoutes(ctx context.Context, db *sqlx.DB, stopId string, routeIds []string) (stopprogress.StopQuery, error) {
	statementString := "select * from route_stop where stop_id = :stop_id"
	args := map[string]interface{}{
		"stop_id": stopId,
	}
	if len(routeIds) > 0 {
		statementString += " and route_id in (:route_ids)"
		args["route_ids"] = routeIds
	}
	statementString += " order by route_id, stop_sequence"

	rows, err := database.PrepareNamedQueryRowsContext(ctx, statementString, db, args)
	defer func() {
		if rows != nil {
			_ = rows.Close()
		}
	}()
	if err != nil {
		return stopprogress.StopQuery{}, fmt.Errorf("unable to retrieve route_stop rows for stop %s, error: %w", stopId, err)
	}

	routeStops, err := scanRouteStops(rows)
	if err != nil {
		return stopprogress.StopQuery{}, fmt.Errorf("unable to read route_stop rows for stop %s, error: %w", stopId, err)
	}
	return MakeStopQuery(stopId, routeStops)
}

// structRows is the part of *sqlx.Rows used by scanRouteStops
type structRows interface {
	Next() bool
	StructScan(dest interface{}) error
	Err() error
}

// scanRouteStops reads every row, an iteration error fails the whole read
func scanRouteStops(rows structRows) ([]*RouteStop, error) {
	routeStops := make([]*RouteStop, 0)
	for rows.Next() {
		routeStop := RouteStop{}
		if err := rows.StructScan(&routeStop); err != nil {
			return nil, err
		}
		routeStops = append(routeStops, &routeStop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return routeStops, nil
}

// MakeRoute converts route_stop rows already ordered by sequence into a stopprogress.Route
func MakeRoute(routeId string, routeStops []*RouteStop) stopprogress.Route {
	route := stopprogress.Route{
		RouteId: routeId,
		Stops:   make([]stopprogress.RouteStop, len(routeStops)),
	}
	for i, routeStop := range routeStops {
		route.Stops[i] = stopprogress.RouteStop{
			StopId:     routeStop.StopId,
			Sequence:   routeStop.StopSequence,
			Name:       routeStop.StopName,
			Coordinate: routeStop.Coordinate(),
		}
	}
	return route
}

// MakeStopQuery collects the sequence of stopId on each route in routeStops.
// The first row gives the stop location
func MakeStopQuery(stopId string, routeStops []*RouteStop) (stopprogress.StopQuery, error) {
	if len(routeStops) == 0 {
		return stopprogress.StopQuery{}, fmt.Errorf("%w: %s", ErrStopNotFound, stopId)
	}
	query := stopprogress.StopQuery{
		StopId:     stopId,
		Coordinate: routeStops[0].Coordinate(),
		Sequences:  make(map[string]int, len(routeStops)),
	}
	for _, routeStop := range routeStops {
		//a route serving the stop twice keeps its last visit, buses between the visits will still arrive
		if sequence, present := query.Sequences[routeStop.RouteId]; present && sequence > routeStop.StopSequence {
			continue
		}
		query.Sequences[routeStop.RouteId] = routeStop.StopSequence
	}
	return query, nil
}
