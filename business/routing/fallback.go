package routing

import (
	"context"
	"log"
	"time"
)

// QueryMetrics receives the outcome of each distance query made through Fallback
type QueryMetrics interface {
	//ObserveQuery is called once per query. kind is one of "route", "matrix" or "legs"
	ObserveQuery(kind string, degraded bool, took time.Duration)
}

// Fallback is a Provider that asks a live Source first and substitutes Estimator results whenever it fails,
// so errors from the routing service never reach callers
type Fallback struct {
	log       *log.Logger
	live      Source
	estimator Estimator
	metrics   QueryMetrics
}

// NewFallback builds Fallback. live may be nil in which case every answer is estimated, metrics may be nil
func NewFallback(log *log.Logger, live Source, estimator Estimator, metrics QueryMetrics) *Fallback {
	return &Fallback{
		log:       log,
		live:      live,
		estimator: estimator,
		metrics:   metrics,
	}
}

// Distance implements Provider
func (f *Fallback) Distance(ctx context.Context, origin, destination Coordinate, speedKmh float64) Result {
	if f.live == nil {
		return f.estimator.Estimate(origin, destination, speedKmh)
	}
	start := time.Now()
	result, err := f.live.Route(ctx, origin, destination)
	f.observe("route", err != nil, start)
	if err != nil {
		f.log.Printf("route query from %s to %s failed, using estimate. error:%v", origin, destination, err)
		return f.estimator.Estimate(origin, destination, speedKmh)
	}
	return result
}

// Distances implements Provider
func (f *Fallback) Distances(ctx context.Context,
	origin Coordinate,
	destinations []Coordinate,
	speedKmh float64) []Result {
	if f.live == nil || len(destinations) == 0 {
		return f.estimator.Distances(ctx, origin, destinations, speedKmh)
	}
	start := time.Now()
	results, err := f.live.Matrix(ctx, origin, destinations)
	if err == nil && len(results) != len(destinations) {
		err = errShortAnswer(len(destinations), len(results))
	}
	f.observe("matrix", err != nil, start)
	if err != nil {
		f.log.Printf("matrix query from %s to %d destinations failed, using estimate. error:%v",
			origin, len(destinations), err)
		return f.estimator.Distances(ctx, origin, destinations, speedKmh)
	}
	return results
}

// Chain implements Provider
func (f *Fallback) Chain(ctx context.Context, origin Coordinate, waypoints []Coordinate, speedKmh float64) []Result {
	if f.live == nil || len(waypoints) == 0 {
		return f.estimator.Chain(ctx, origin, waypoints, speedKmh)
	}
	start := time.Now()
	results, err := f.live.Legs(ctx, origin, waypoints)
	if err == nil && len(results) != len(waypoints) {
		err = errShortAnswer(len(waypoints), len(results))
	}
	f.observe("legs", err != nil, start)
	if err != nil {
		f.log.Printf("leg query from %s through %d waypoints failed, using estimate. error:%v",
			origin, len(waypoints), err)
		return f.estimator.Chain(ctx, origin, waypoints, speedKmh)
	}
	return results
}

func (f *Fallback) observe(kind string, degraded bool, start time.Time) {
	if f.metrics == nil {
		return
	}
	f.metrics.ObserveQuery(kind, degraded, time.Since(start))
}
