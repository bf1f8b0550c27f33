package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/OpenTransitTools/stoptracker/foundation/httpclient"
	"google.golang.org/protobuf/proto"
)

//vehiclePosition contains fields read from a GTFS-RT vehicle positions feed.
//fields that are optional are pointers and will be nil if they were not present in the feed
type vehiclePosition struct {
	Id        string
	Label     string
	Timestamp int64
	TripId    *string
	RouteId   *string
	Latitude  *float32
	Longitude *float32
	//Speed is in meters per second as in the feed
	Speed *float32
}

//positionIsSame returns true when v2 reports the same location at the same time as v
func (v *vehiclePosition) positionIsSame(v2 *vehiclePosition) bool {
	if v == nil || v2 == nil {
		return v == v2
	}
	if v.Id != v2.Id || v.Timestamp != v2.Timestamp {
		return false
	}
	if v.Latitude == nil || v2.Latitude == nil || v.Longitude == nil || v2.Longitude == nil {
		return false
	}
	return *v.Latitude == *v2.Latitude && *v.Longitude == *v2.Longitude
}

//fix converts the position to stopprogress.Fix, false when the feed had no location for the vehicle
func (v *vehiclePosition) fix() (stopprogress.Fix, bool) {
	if v.Latitude == nil || v.Longitude == nil {
		return stopprogress.Fix{}, false
	}
	fix := stopprogress.Fix{
		Coordinate: routing.Coordinate{
			Longitude: float64(*v.Longitude),
			Latitude:  float64(*v.Latitude),
		},
		Timestamp: time.Unix(v.Timestamp, 0),
	}
	if v.Speed != nil && *v.Speed > 0 {
		fix.SpeedKmh = float64(*v.Speed) * 3.6
	}
	return fix, true
}

/*
getVehiclePositions retrieves gtfs-realtime vehicle positions and loads them into a non-protocol buffer object.
Any changes to the GTFS-realtime protocol or generated code can be handled here and not elsewhere in the program.
*/
func getVehiclePositions(ctx context.Context, log *log.Logger, client *http.Client, url string, now time.Time) ([]vehiclePosition, error) {
	gtfsResponseBytes, err := httpclient.GetBytes(ctx, client, url)
	if err != nil {
		return nil, err
	}
	feedMessage := gtfsrt.FeedMessage{}
	err = proto.Unmarshal(gtfsResponseBytes, &feedMessage)
	if err != nil {
		return nil, fmt.Errorf("unable to unmarshal FeedMessage: %w", err)
	}
	var vehiclePositions []vehiclePosition
	for _, entity := range feedMessage.Entity {
		if entity.Vehicle == nil {
			continue
		}
		vehicle := entity.Vehicle
		vehicleDescriptor := vehicle.Vehicle
		if vehicleDescriptor == nil || vehicleDescriptor.Id == nil {
			log.Printf("Vehicle entity missing vehicle identifier, %v\n", entity.GetId())
			continue
		}
		position := vehiclePosition{
			Id:    *vehicleDescriptor.Id,
			Label: vehicleDescriptor.GetLabel(),
		}
		if trip := vehicle.Trip; trip != nil {
			position.TripId = trip.TripId
			position.RouteId = trip.RouteId
		}
		if vehPos := vehicle.Position; vehPos != nil {
			position.Latitude = vehPos.Latitude
			position.Longitude = vehPos.Longitude
			position.Speed = vehPos.Speed
		}
		if vehicle.Timestamp != nil {
			position.Timestamp = int64(*vehicle.Timestamp)
		} else {
			position.Timestamp = now.Unix()
		}
		vehiclePositions = append(vehiclePositions, position)
	}
	return vehiclePositions, nil
}

//vehicleFeed feeds positions from a GTFS-rt vehicle positions feed to busService
type vehicleFeed struct {
	log                   *log.Logger
	service               *busService
	metrics               *Collector
	client                *http.Client
	url                   string
	expirePositionSeconds int64
	lastSeen              map[string]*vehiclePosition
}

func makeVehicleFeed(log *log.Logger, service *busService, metrics *Collector, url string, expirePositionSeconds int) *vehicleFeed {
	return &vehicleFeed{
		log:                   log,
		service:               service,
		metrics:               metrics,
		client:                httpclient.New(15 * time.Second),
		url:                   url,
		expirePositionSeconds: int64(expirePositionSeconds),
		lastSeen:              make(map[string]*vehiclePosition),
	}
}

//update loads the feed once and processes new positions of buses with active trips.
//returns the number of positions processed
func (f *vehicleFeed) update(ctx context.Context, now time.Time) (int, error) {
	vehiclePositions, err := getVehiclePositions(ctx, f.log, f.client, f.url, now)
	if err != nil {
		return 0, err
	}
	if f.metrics != nil {
		f.metrics.FeedPositions.Add(float64(len(vehiclePositions)))
	}
	processed := 0
	for i := range vehiclePositions {
		position := &vehiclePositions[i]
		if position.positionIsSame(f.lastSeen[position.Id]) {
			continue
		}
		if f.expirePositionSeconds > 0 && now.Unix()-position.Timestamp > f.expirePositionSeconds {
			continue
		}
		fix, present := position.fix()
		if !present {
			continue
		}
		f.lastSeen[position.Id] = position
		_, err = f.service.processFix(ctx, position.Id, fix)
		if err != nil {
			if !errors.Is(err, stopprogress.ErrNoActiveTrip) {
				f.log.Printf("error processing feed position for bus %s: %v", position.Id, err)
			}
			continue
		}
		processed++
	}
	return processed, nil
}

//runVehicleFeedLoop polls the vehicle positions feed every LoadEverySeconds until shutdownSignal
func runVehicleFeedLoop(log *log.Logger,
	wg *sync.WaitGroup,
	service *busService,
	metrics *Collector,
	cfg ServiceConfig,
	shutdownSignal chan bool) {
	defer wg.Done()

	loopDuration := time.Duration(cfg.LoadEverySeconds) * time.Second
	sleep := time.Duration(0) //sleep for zero seconds the first time
	feed := makeVehicleFeed(log, service, metrics, cfg.VehiclePositionsUrl, cfg.ExpirePositionSeconds)

	for {
		select {
		case <-shutdownSignal:
			log.Printf("Exiting vehicle feed loop on shutdown signal")
			return
		case <-time.After(sleep):
		}

		//set default sleep for next loop in the event of an error
		sleep = loopDuration

		// mark the time we start working
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), loopDuration+30*time.Second)
		processed, err := feed.update(ctx, start)
		cancel()
		if err != nil {
			log.Printf("error attempting to get vehicle positions. error:%v\n", err)
			continue
		}

		// attempt to run the loop every loopDuration by subtracting the time it took to perform the work
		workTook := time.Since(start)
		log.Printf("processed %d vehicle positions, work took %s\n", processed, workTook.Round(time.Millisecond))

		// if the work took longer than loopDuration don't sleep at all on the next loop
		if workTook >= loopDuration {
			sleep = time.Duration(0)
		} else {
			sleep = loopDuration - workTook
		}
	}
}
