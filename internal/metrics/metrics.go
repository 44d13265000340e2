package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	WatchedTrips prometheus.Gauge

	TripsStarted  prometheus.Counter
	TripsEnded    prometheus.Counter
	Arrivals      *prometheus.CounterVec // source label: driver|location
	Departures    *prometheus.CounterVec // source label: driver|location
	LocationPings prometheus.Counter

	StopStates     *prometheus.CounterVec // state label, counts published transitions
	Decisions      *prometheus.CounterVec // action, allowed, reason labels
	RecordsWritten *prometheus.CounterVec // kind label: wait_request|absence

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	EvalDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	EvalInterval    prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(evalInterval, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		WatchedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_watched_trips",
			Help: "Number of trips with a running stop-state watcher.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips created.",
		}),
		TripsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_ended_total",
			Help: "Total trips ended.",
		}),
		Arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stop_arrivals_total",
			Help: "Stop arrivals recorded.",
		}, []string{"source"}),
		Departures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stop_departures_total",
			Help: "Stop departures recorded.",
		}, []string{"source"}),
		LocationPings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_location_pings_total",
			Help: "Location updates received from drivers.",
		}),
		StopStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stop_state_changes_total",
			Help: "Stop state changes published, by new state.",
		}, []string{"state"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_rider_decisions_total",
			Help: "Rider action gate results.",
		}, []string{"action", "allowed", "reason"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_records_written_total",
			Help: "Wait-request and absence records written.",
		}, []string{"kind"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_eval_duration_seconds",
			Help:    "Duration of one trip re-evaluation including storage reads.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		EvalInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_eval_interval_seconds",
			Help: "Stop-state re-evaluation tick in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_refresh_interval_seconds",
			Help: "Active trips refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.WatchedTrips,
		c.TripsStarted, c.TripsEnded, c.Arrivals, c.Departures, c.LocationPings,
		c.StopStates, c.Decisions, c.RecordsWritten,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.EvalDuration, c.PublishDuration,
		c.EvalInterval, c.RefreshInterval,
	)

	c.EvalInterval.Set(evalInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
