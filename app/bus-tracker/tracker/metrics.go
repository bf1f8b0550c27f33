package tracker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the prometheus metrics of the tracker service.
// It receives distance query outcomes from routing.Fallback and fix outcomes from stopprogress.Tracker
type Collector struct {
	reg *prometheus.Registry

	FixesProcessed   prometheus.Counter
	SequenceAdvances prometheus.Counter
	DegradedFixes    prometheus.Counter
	RejectedFixes    prometheus.Counter
	TripsActive      prometheus.Gauge

	DistanceQueries  *prometheus.CounterVec // kind label: route|matrix|legs, outcome label: live|degraded
	DistanceDuration *prometheus.HistogramVec

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	RecordErrs      prometheus.Counter
	FeedPositions   prometheus.Counter
}

// NewCollector creates Collector with its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FixesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fixes_processed_total",
			Help: "Total GPS fixes classified against a route.",
		}),
		SequenceAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sequence_advances_total",
			Help: "Total fixes that moved a bus to a later stop.",
		}),
		DegradedFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_degraded_fixes_total",
			Help: "Total fixes classified with estimated distances.",
		}),
		RejectedFixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_rejected_fixes_total",
			Help: "Total fixes received for buses without an active trip.",
		}),
		TripsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of buses with a trip in progress.",
		}),
		DistanceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_distance_queries_total",
			Help: "Distance queries by kind and whether they were answered live or estimated.",
		}, []string{"kind", "outcome"}),
		DistanceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_distance_query_duration_seconds",
			Help:    "Duration of distance queries including fallback.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total stop progress messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total stop progress publish errors.",
		}),
		RecordErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_record_errors_total",
			Help: "Total failures writing bus positions to the database.",
		}),
		FeedPositions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_positions_total",
			Help: "Total vehicle positions read from the GTFS-rt feed.",
		}),
	}

	reg.MustRegister(
		c.FixesProcessed, c.SequenceAdvances, c.DegradedFixes, c.RejectedFixes, c.TripsActive,
		c.DistanceQueries, c.DistanceDuration,
		c.NATSPublished, c.NATSPublishErrs, c.RecordErrs, c.FeedPositions,
	)
	return c
}

// Handler serves the registry in prometheus text format
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveQuery implements routing.QueryMetrics
func (c *Collector) ObserveQuery(kind string, degraded bool, took time.Duration) {
	outcome := "live"
	if degraded {
		outcome = "degraded"
	}
	c.DistanceQueries.WithLabelValues(kind, outcome).Inc()
	c.DistanceDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// FixProcessed implements stopprogress.Metrics
func (c *Collector) FixProcessed(advanced bool, degraded bool) {
	c.FixesProcessed.Inc()
	if advanced {
		c.SequenceAdvances.Inc()
	}
	if degraded {
		c.DegradedFixes.Inc()
	}
}

// FixRejected implements stopprogress.Metrics
func (c *Collector) FixRejected() {
	c.RejectedFixes.Inc()
}

// ActiveTrips implements stopprogress.Metrics
func (c *Collector) ActiveTrips(count int) {
	c.TripsActive.Set(float64(count))
}
