// Package tracker runs the bus stop progress service: fixes arrive over http, nats or a GTFS-rt vehicle
// positions feed, are classified by stopprogress.Tracker, and the results are stored and published.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/nats-io/nats.go"
)

// ServiceConfig holds the settings of the child services started by StartServices
type ServiceConfig struct {
	HttpPort int
	//FixSubject is the nats subject fixes are received on, empty disables the listener
	FixSubject string
	//ProgressSubject is the nats subject processed fixes are published on, empty disables publishing
	ProgressSubject string
	//VehiclePositionsUrl is a GTFS-rt vehicle positions feed, empty disables polling
	VehiclePositionsUrl string
	LoadEverySeconds    int
	//ExpirePositionSeconds is how old a feed position may be and still be used
	ExpirePositionSeconds int
}

// busService ties stopprogress.Tracker to persistence and publishing. All fix sources go through it
type busService struct {
	log       *log.Logger
	tracker   *stopprogress.Tracker
	store     Store
	publisher *progressPublisher
	now       func() time.Time
}

func makeBusService(log *log.Logger, tracker *stopprogress.Tracker, store Store, publisher *progressPublisher) *busService {
	return &busService{
		log:       log,
		tracker:   tracker,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// startTrip loads routeId and starts busId on it at sequence zero
func (b *busService) startTrip(ctx context.Context, busId string, routeId string) (stopprogress.BusPosition, error) {
	route, err := b.store.RouteStops(ctx, routeId)
	if err != nil {
		return stopprogress.BusPosition{}, fmt.Errorf("loading route for bus %s: %w", busId, err)
	}
	position, err := b.tracker.StartTrip(busId, route)
	if err != nil {
		return stopprogress.BusPosition{}, err
	}
	if err = b.store.RecordTripStart(ctx, busId, routeId, position.TripStartedAt); err != nil {
		b.log.Printf("failed to record trip start for bus %s, error:%v", busId, err)
	}
	return position, nil
}

// endTrip ends the trip of busId
func (b *busService) endTrip(ctx context.Context, busId string) (stopprogress.BusPosition, error) {
	position, err := b.tracker.EndTrip(busId)
	if err != nil {
		return stopprogress.BusPosition{}, err
	}
	if err = b.store.RecordTripEnd(ctx, busId, position.TripStartedAt, b.now()); err != nil {
		b.log.Printf("failed to record trip end for bus %s, error:%v", busId, err)
	}
	return position, nil
}

// processFix classifies fix and publishes the outcome with the position the fix stored.
// A trip started or ended meanwhile is left alone by the stored write
func (b *busService) processFix(ctx context.Context, busId string, fix stopprogress.Fix) (stopprogress.FixResult, error) {
	result, err := b.tracker.ProcessFix(ctx, busId, fix)
	if err != nil {
		return result, err
	}
	b.publisher.publish(ctx, result, result.Position)
	return result, nil
}

// arrivals lists buses heading to stopId, limited to routeIds when given
func (b *busService) arrivals(ctx context.Context, stopId string, routeIds []string) ([]stopprogress.Arrival, error) {
	stop, err := b.store.StopRoutes(ctx, stopId, routeIds)
	if err != nil {
		return nil, err
	}
	return b.tracker.QueryArrivals(ctx, stop, nil), nil
}

// resumeTrips restores trips that were in progress when the service last stopped. Returns the number resumed
func (b *busService) resumeTrips(ctx context.Context) (int, error) {
	positions, err := b.store.ActivePositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active bus positions: %w", err)
	}
	routes := make(map[string]stopprogress.Route)
	resumed := 0
	for _, row := range positions {
		route, present := routes[row.RouteId]
		if !present {
			route, err = b.store.RouteStops(ctx, row.RouteId)
			if err != nil {
				b.log.Printf("unable to resume trip of bus %s, error:%v", row.BusId, err)
				continue
			}
			routes[row.RouteId] = route
		}
		_, err = b.tracker.ResumeTrip(row.BusId, route, row.CurrentStopSequence, row.Coordinate(), row.TripStartedAt)
		if err != nil {
			b.log.Printf("unable to resume trip of bus %s, error:%v", row.BusId, err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// isClientError returns true for errors caused by the request rather than the service
func isClientError(err error) bool {
	return errors.Is(err, stopprogress.ErrNoActiveTrip) ||
		errors.Is(err, stopprogress.ErrInvalidRoute) ||
		errors.Is(err, stopprogress.ErrNoFix)
}

// StartServices resumes persisted trips then brings up the web service, the nats fix listener and the
// vehicle positions feed loop. Returns on shutdown signal once every child service has stopped
func StartServices(log *log.Logger,
	cfg ServiceConfig,
	stopTracker *stopprogress.Tracker,
	store Store,
	natsConn *nats.Conn,
	metrics *Collector,
	shutdownSignal chan os.Signal) error {

	var publisher messagePublisher
	if natsConn != nil && cfg.ProgressSubject != "" {
		publisher = natsConn
	}
	service := makeBusService(log, stopTracker, store,
		makeProgressPublisher(log, store, publisher, cfg.ProgressSubject, metrics))

	resumeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	resumed, err := service.resumeTrips(resumeCtx)
	cancel()
	if err != nil {
		return err
	}
	log.Printf("Resumed %d trips in progress", resumed)

	wg := sync.WaitGroup{}

	//create shutdown channels
	webServiceShutdown := make(chan bool, 1)
	fixListenerShutdown := make(chan bool, 1)
	vehicleFeedShutdown := make(chan bool, 1)

	//start all child services
	wg.Add(1)
	go runWebService(log, &wg, service, metrics, cfg.HttpPort, webServiceShutdown)
	if natsConn != nil && cfg.FixSubject != "" {
		wg.Add(1)
		go runFixListener(log, &wg, natsConn, service, cfg.FixSubject, fixListenerShutdown)
	}
	if cfg.VehiclePositionsUrl != "" {
		wg.Add(1)
		go runVehicleFeedLoop(log, &wg, service, metrics, cfg, vehicleFeedShutdown)
	}

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	webServiceShutdown <- true
	fixListenerShutdown <- true
	vehicleFeedShutdown <- true
	wg.Wait()
	log.Printf("Subroutines shut down, exiting bus tracker service")
	return nil
}
