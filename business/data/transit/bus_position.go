package transit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/jmoiron/sqlx"
)

// ErrBusNotFound is returned when no position has been recorded for a bus
var ErrBusNotFound = errors.New("bus not found")

// BusPosition is a row of bus_position, the last accepted stop progress of one bus
type BusPosition struct {
	BusId               string    `db:"bus_id" json:"bus_id"`
	RouteId             string    `db:"route_id" json:"route_id"`
	TripState           string    `db:"trip_state" json:"trip_state"`
	CurrentStopSequence int       `db:"current_stop_sequence" json:"current_stop_sequence"`
	Lat                 *float64  `db:"lat" json:"lat"`
	Lon                 *float64  `db:"lon" json:"lon"`
	SpeedKmh            float64   `db:"speed_kmh" json:"speed_kmh"`
	AtStop              bool      `db:"at_stop" json:"at_stop"`
	RecordedAt          time.Time `db:"recorded_at" json:"recorded_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
	//TripStartedAt identifies the trip the row belongs to
	TripStartedAt time.Time `db:"trip_started_at" json:"trip_started_at"`
}

// Coordinate returns the last reported location or nil when none was stored
func (b *BusPosition) Coordinate() *routing.Coordinate {
	if b.Lat == nil || b.Lon == nil {
		return nil
	}
	return &routing.Coordinate{Longitude: *b.Lon, Latitude: *b.Lat}
}

// MakeBusPosition converts a tracker position into a row, recordedAt is when it is written
func MakeBusPosition(position stopprogress.BusPosition, recordedAt time.Time) *BusPosition {
	row := BusPosition{
		BusId:               position.BusId,
		RouteId:             position.RouteId,
		TripState:           position.State.String(),
		CurrentStopSequence: position.Sequence,
		SpeedKmh:            position.SpeedKmh,
		AtStop:              position.AtStop,
		RecordedAt:          recordedAt,
		UpdatedAt:           position.UpdatedAt,
		TripStartedAt:       position.TripStartedAt,
	}
	if position.Coordinate != nil {
		lat, lon := position.Coordinate.Latitude, position.Coordinate.Longitude
		row.Lat = &lat
		row.Lon = &lon
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = recordedAt
	}
	return &row
}

const upsertBusPosition = "insert into bus_position (bus_id, route_id, trip_state, current_stop_sequence, " +
	"lat, lon, speed_kmh, at_stop, recorded_at, updated_at, trip_started_at) values " +
	"(:bus_id, :route_id, :trip_state, :current_stop_sequence, " +
	":lat, :lon, :speed_kmh, :at_stop, :recorded_at, :updated_at, :trip_started_at) " +
	"on conflict (bus_id) do update set " +
	"route_id = excluded.route_id, " +
	"trip_state = excluded.trip_state, " +
	"current_stop_sequence = excluded.current_stop_sequence, " +
	"lat = excluded.lat, " +
	"lon = excluded.lon, " +
	"speed_kmh = excluded.speed_kmh, " +
	"at_stop = excluded.at_stop, " +
	"recorded_at = excluded.recorded_at, " +
	"updated_at = excluded.updated_at, " +
	"trip_started_at = excluded.trip_started_at"

// positionGuard is ReplacesPosition in sql
var positionGuard = " where bus_position.trip_started_at < excluded.trip_started_at " +
	"or (bus_position.trip_started_at = excluded.trip_started_at " +
	"and bus_position.trip_state <> '" + stopprogress.Idle.String() + "' " +
	"and bus_position.current_stop_sequence <= excluded.current_stop_sequence)"

// tripStartGuard keeps a late trip start from replacing a newer trip
const tripStartGuard = " where bus_position.trip_started_at <= excluded.trip_started_at"

// ReplacesPosition reports whether incoming may overwrite stored. Rows of a newer trip always replace older ones.
// Within the same trip an ended trip is never overwritten and the sequence never goes backwards
func ReplacesPosition(stored *BusPosition, incoming *BusPosition) bool {
	if stored == nil || stored.TripStartedAt.Before(incoming.TripStartedAt) {
		return true
	}
	if !stored.TripStartedAt.Equal(incoming.TripStartedAt) {
		return false
	}
	return stored.TripState != stopprogress.Idle.String() &&
		stored.CurrentStopSequence <= incoming.CurrentStopSequence
}

// RecordBusPosition inserts or replaces the row for position.BusId when ReplacesPosition allows it
func RecordBusPosition(ctx context.Context, db *sqlx.DB, position *BusPosition) error {
	_, err := db.NamedExecContext(ctx, db.Rebind(upsertBusPosition+positionGuard), position)
	if err != nil {
		return fmt.Errorf("unable to record bus_position for bus %s: %w", position.BusId, err)
	}
	return nil
}

// RecordTripStart stores busId at sequence zero of routeId with no location for the trip started at startedAt,
// replacing any older trip
func RecordTripStart(ctx context.Context, db *sqlx.DB, busId string, routeId string, startedAt time.Time) error {
	position := BusPosition{
		BusId:         busId,
		RouteId:       routeId,
		TripState:     stopprogress.InProgress.String(),
		RecordedAt:    startedAt,
		UpdatedAt:     startedAt,
		TripStartedAt: startedAt,
	}
	_, err := db.NamedExecContext(ctx, db.Rebind(upsertBusPosition+tripStartGuard), &position)
	if err != nil {
		return fmt.Errorf("unable to record trip start for bus %s: %w", busId, err)
	}
	return nil
}

// RecordTripEnd marks the stored trip of busId started at startedAt as idle.
// Returns ErrBusNotFound when no row holds that trip
func RecordTripEnd(ctx context.Context, db *sqlx.DB, busId string, startedAt time.Time, at time.Time) error {
	statementString := "update bus_position set trip_state = :trip_state, at_stop = false, " +
		"recorded_at = :recorded_at, updated_at = :recorded_at " +
		"where bus_id = :bus_id and trip_started_at = :trip_started_at"
	statementString = db.Rebind(statementString)
	result, err := db.NamedExecContext(ctx, statementString, map[string]interface{}{
		"trip_state":      stopprogress.Idle.String(),
		"recorded_at":     at,
		"bus_id":          busId,
		"trip_started_at": startedAt,
	})
	if err != nil {
		return fmt.Errorf("unable to record trip end for bus %s: %w", busId, err)
	}
	if count, err := result.RowsAffected(); err == nil && count == 0 {
		return fmt.Errorf("%w: %s trip started at %v", ErrBusNotFound, busId, startedAt)
	}
	return nil
}

// GetBusPosition returns the stored row for busId
func GetBusPosition(ctx context.Context, db *sqlx.DB, busId string) (*BusPosition, error) {
	position := BusPosition{}
	query := "select * from bus_position where bus_id = ?"
	err := db.GetContext(ctx, &position, db.Rebind(query), busId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBusNotFound, busId)
		}
		return nil, fmt.Errorf("unable to retrieve bus_position for bus %s: %w", busId, err)
	}
	return &position, nil
}

// GetActiveBusPositions returns rows of every bus whose trip hasn't ended, ordered by bus id
func GetActiveBusPositions(ctx context.Context, db *sqlx.DB) ([]*BusPosition, error) {
	var positions []*BusPosition
	query := "select * from bus_position where trip_state <> ? order by bus_id"
	err := db.SelectContext(ctx, &positions, db.Rebind(query), stopprogress.Idle.String())
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve active bus_position rows: %w", err)
	}
	return positions, nil
}
