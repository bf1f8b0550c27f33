package tracker

import (
	"context"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence used by the tracker service
type Store interface {
	RouteStops(ctx context.Context, routeId string) (stopprogress.Route, error)
	StopRoutes(ctx context.Context, stopId string, routeIds []string) (stopprogress.StopQuery, error)
	ActivePositions(ctx context.Context) ([]*transit.BusPosition, error)
	RecordPosition(ctx context.Context, position *transit.BusPosition) error
	RecordTripStart(ctx context.Context, busId string, routeId string, startedAt time.Time) error
	RecordTripEnd(ctx context.Context, busId string, startedAt time.Time, at time.Time) error
}

// dbStore implements Store with the transit tables
type dbStore struct {
	db *sqlx.DB
}

// NewDBStore returns a Store backed by db
func NewDBStore(db *sqlx.DB) Store {
	return &dbStore{db: db}
}

func (d *dbStore) RouteStops(ctx context.Context, routeId string) (stopprogress.Route, error) {
	return transit.GetRouteStops(ctx, d.db, routeId)
}

func (d *dbStore) StopRoutes(ctx context.Context, stopId string, routeIds []string) (stopprogress.StopQuery, error) {
	return transit.GetStopRoutes(ctx, d.db, stopId, routeIds)
}

func (d *dbStore) ActivePositions(ctx context.Context) ([]*transit.BusPosition, error) {
	return transit.GetActiveBusPositions(ctx, d.db)
}

func (d *dbStore) RecordPosition(ctx context.Context, position *transit.BusPosition) error {
	return transit.RecordBusPosition(ctx, d.db, position)
}

func (d *dbStore) RecordTripStart(ctx context.Context, busId string, routeId string, startedAt time.Time) error {
	return transit.RecordTripStart(ctx, d.db, busId, routeId, startedAt)
}

func (d *dbStore) RecordTripEnd(ctx context.Context, busId string, startedAt time.Time, at time.Time) error {
	return transit.RecordTripEnd(ctx, d.db, busId, startedAt, at)
}
