package tracker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
)

// messagePublisher is the part of *nats.Conn used to send stop progress
type messagePublisher interface {
	Publish(subject string, data []byte) error
}

// StopProgress is the message published for every processed fix
type StopProgress struct {
	stopprogress.FixResult
	Position stopprogress.BusPosition `json:"position"`
}

//progressPublisher sends the outcome of processed fixes to their destinations (database and nats)
type progressPublisher struct {
	log              *log.Logger
	store            Store
	publisher        messagePublisher
	subject          string
	metrics          *Collector
	recordToDatabase bool
	publishOverNats  bool
}

//makeProgressPublisher creates progressPublisher, a nil store or publisher disables that destination
func makeProgressPublisher(log *log.Logger,
	store Store,
	publisher messagePublisher,
	subject string,
	metrics *Collector) *progressPublisher {
	return &progressPublisher{
		log:              log,
		store:            store,
		publisher:        publisher,
		subject:          subject,
		metrics:          metrics,
		recordToDatabase: store != nil,
		publishOverNats:  publisher != nil,
	}
}

//publish records position and sends result with it over nats according to recordToDatabase and publishOverNats
func (p *progressPublisher) publish(ctx context.Context, result stopprogress.FixResult, position stopprogress.BusPosition) {
	if p.recordToDatabase {
		p.record(ctx, position)
	}
	if p.publishOverNats {
		p.sendOverNats(&StopProgress{FixResult: result, Position: position})
	}
}

func (p *progressPublisher) record(ctx context.Context, position stopprogress.BusPosition) {
	err := p.store.RecordPosition(ctx, transit.MakeBusPosition(position, time.Now()))
	if err != nil {
		p.log.Printf("failed to record position of bus %s, error:%v", position.BusId, err)
		if p.metrics != nil {
			p.metrics.RecordErrs.Inc()
		}
	}
}

func (p *progressPublisher) sendOverNats(progress *StopProgress) {
	jsonData, err := json.Marshal(progress)
	if err != nil {
		p.log.Printf("failed to marshal StopProgress in progressPublisher.sendOverNats, error:%v", err)
		return
	}
	err = p.publisher.Publish(p.subject, jsonData)
	if err != nil {
		p.log.Printf("failed to send StopProgress for bus %s in progressPublisher.sendOverNats, error:%v",
			progress.BusId, err)
		if p.metrics != nil {
			p.metrics.NATSPublishErrs.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.NATSPublished.Inc()
	}
}
