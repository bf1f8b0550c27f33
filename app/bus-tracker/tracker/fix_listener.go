package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/routing"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/nats-io/nats.go"
)

// FixMessage is a GPS fix as sent by a bus, over nats it carries BusId
type FixMessage struct {
	BusId     string    `json:"bus_id,omitempty"`
	Longitude *float64  `json:"longitude"`
	Latitude  *float64  `json:"latitude"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Timestamp time.Time `json:"timestamp"`
}

// fix converts the message to stopprogress.Fix, a coordinate is required
func (f *FixMessage) fix() (stopprogress.Fix, error) {
	if f.Longitude == nil || f.Latitude == nil {
		return stopprogress.Fix{}, errors.New("fix requires longitude and latitude")
	}
	if *f.Latitude < -90 || *f.Latitude > 90 || *f.Longitude < -180 || *f.Longitude > 180 {
		return stopprogress.Fix{}, fmt.Errorf("fix coordinate %f,%f out of range", *f.Longitude, *f.Latitude)
	}
	if f.SpeedKmh < 0 {
		return stopprogress.Fix{}, fmt.Errorf("fix speed %f is negative", f.SpeedKmh)
	}
	return stopprogress.Fix{
		Coordinate: routing.Coordinate{Longitude: *f.Longitude, Latitude: *f.Latitude},
		SpeedKmh:   f.SpeedKmh,
		Timestamp:  f.Timestamp,
	}, nil
}

//runFixListener starts NATS subscription on fixSubject for FixMessages and processes each one.
//Ends NATS subscription and returns on shutdownSignal
func runFixListener(
	log *log.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	service *busService,
	fixSubject string,
	shutdownSignal chan bool) {
	defer wg.Done()

	ch := make(chan *nats.Msg, 64)
	log.Printf("Subscribing to fixes on subject:%s on nats: %v\n", fixSubject, natsConn.Servers())
	sub, err := natsConn.ChanSubscribe(fixSubject, ch)
	if err != nil {
		log.Printf("Unable to establish subscription to nats server: %v\n", err)
		<-shutdownSignal
		return
	}

	for {
		select {
		case msg := <-ch:
			processFixFromMsg(log, msg.Data, service)
		case <-shutdownSignal:
			log.Printf("ending fix listener on shutdown signal\n")
			log.Printf("unsubscribing to nats\n")
			err = sub.Unsubscribe()
			if err != nil {
				log.Printf("Error unsubscribing to nats:%s", err)
			}
			return
		}
	}
}

//processFixFromMsg un-marshal FixMessage from payload and runs it through service
func processFixFromMsg(log *log.Logger, payload []byte, service *busService) {
	var message FixMessage
	err := json.Unmarshal(payload, &message)
	if err != nil {
		log.Printf("error parsing FixMessage: %s, payload:%s", err, string(payload))
		return
	}
	if message.BusId == "" {
		log.Printf("FixMessage without bus_id, payload:%s", string(payload))
		return
	}
	fix, err := message.fix()
	if err != nil {
		log.Printf("invalid FixMessage for bus %s: %s", message.BusId, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = service.processFix(ctx, message.BusId, fix)
	if err != nil && !errors.Is(err, stopprogress.ErrNoActiveTrip) {
		log.Printf("error processing fix for bus %s: %v", message.BusId, err)
	}
}
