package stopprogress

import (
	"fmt"

	"github.com/OpenTransitTools/stoptracker/business/routing"
)

// ArrivalStatus is a coarse description of how soon a bus reaches a stop. It's derived on every read
type ArrivalStatus int

const (
	OnRoute ArrivalStatus = iota
	Approaching
	Arriving
	Arrived
)

// String implements Stringer for ArrivalStatus
func (s ArrivalStatus) String() string {
	switch s {
	case Arrived:
		return "arrived"
	case Arriving:
		return "arriving"
	case Approaching:
		return "approaching"
	case OnRoute:
		return "on-route"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so statuses are written by name in json
func (s ArrivalStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ArrivalStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "arrived":
		*s = Arrived
	case "arriving":
		*s = Arriving
	case "approaching":
		*s = Approaching
	case "on-route":
		*s = OnRoute
	default:
		return fmt.Errorf("unknown arrival status %q", string(text))
	}
	return nil
}

const (
	DefaultArrivingMinutes    = 1.0
	DefaultApproachingMinutes = 3.0
)

// ArrivalThresholds holds the limits used to pick an ArrivalStatus
type ArrivalThresholds struct {
	AtStopMeters       float64
	ArrivingMinutes    float64
	ApproachingMinutes float64
}

// DefaultArrivalThresholds returns the standard 150 meter, 1 minute and 3 minute thresholds
func DefaultArrivalThresholds() ArrivalThresholds {
	return ArrivalThresholds{
		AtStopMeters:       DefaultAtStopThresholdMeters,
		ArrivingMinutes:    DefaultArrivingMinutes,
		ApproachingMinutes: DefaultApproachingMinutes,
	}
}

// Classify maps distance and duration to an ArrivalStatus, distance is checked before duration
func (a ArrivalThresholds) Classify(result routing.Result, durationMinutes float64) ArrivalStatus {
	switch {
	case result.DistanceMeters <= a.AtStopMeters:
		return Arrived
	case durationMinutes <= a.ArrivingMinutes:
		return Arriving
	case durationMinutes <= a.ApproachingMinutes:
		return Approaching
	default:
		return OnRoute
	}
}
