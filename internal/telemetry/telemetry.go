// Package telemetry exposes the prometheus counters and gauges shared
// by the bus, service runtime and updater pipeline. Grounded on the
// teacher's metrics.go, trimmed to the surface this domain needs.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Bus tracks broker-connection level health.
type Bus struct {
	Reconnects      prometheus.Counter
	QueuedPublishes prometheus.Gauge
	InflightReplies prometheus.Gauge
}

// Service tracks request/response and liveness behavior for one
// service-runtime process.
type Service struct {
	RequestsHandled  *prometheus.CounterVec
	RequestsFailed   *prometheus.CounterVec
	RequestsOutbound *prometheus.CounterVec
	OpenRequests     prometheus.Gauge
	LivenessPeers    prometheus.Gauge
	PingRoundTrip    prometheus.Histogram
}

// Pipeline tracks the updater's stage throughput and queue depth.
type Pipeline struct {
	QueueDepth   *prometheus.GaugeVec
	RowsReplaced *prometheus.CounterVec
	RowsDeleted  *prometheus.CounterVec
	Refetches    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
}

// NewBus registers and returns a Bus metric set on reg.
func NewBus(reg prometheus.Registerer) *Bus {
	b := &Bus{
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Number of times the broker connection was re-established.",
		}),
		QueuedPublishes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bus_queued_publishes",
			Help: "Publishes buffered while disconnected, awaiting flush.",
		}),
		InflightReplies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bus_inflight_replies",
			Help: "Reply futures registered on the main connection.",
		}),
	}
	reg.MustRegister(b.Reconnects, b.QueuedPublishes, b.InflightReplies)
	return b
}

// NewService registers and returns a Service metric set on reg.
func NewService(reg prometheus.Registerer) *Service {
	s := &Service{
		RequestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_requests_handled_total",
			Help: "Inbound requests handled, by request_type and outcome.",
		}, []string{"request_type", "outcome"}),
		RequestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_requests_failed_total",
			Help: "Inbound requests that ended in an error response.",
		}, []string{"request_type"}),
		RequestsOutbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_requests_outbound_total",
			Help: "Outbound requests issued to peer services, by target and outcome.",
		}, []string{"target", "outcome"}),
		OpenRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_open_requests",
			Help: "Requests currently being handled by this worker.",
		}),
		LivenessPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_liveness_peers",
			Help: "Listeners currently considered alive by this worker.",
		}),
		PingRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "service_ping_round_trip_seconds",
			Help:    "Time between a ping and the ping-result applying to this worker.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(s.RequestsHandled, s.RequestsFailed, s.RequestsOutbound,
		s.OpenRequests, s.LivenessPeers, s.PingRoundTrip)
	return s
}

// NewPipeline registers and returns a Pipeline metric set on reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "updater_stage_queue_depth",
			Help: "Items buffered between two pipeline stages.",
		}, []string{"table", "stage"}),
		RowsReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updater_rows_replaced_total",
			Help: "Rows written via REPLACE INTO, by table.",
		}, []string{"table"}),
		RowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updater_rows_deleted_total",
			Help: "Rows deleted because they vanished from the source, by table.",
		}, []string{"table"}),
		Refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "updater_refetches_total",
			Help: "Rows flagged for refetch by the filter stage, by table.",
		}, []string{"table"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "updater_table_run_seconds",
			Help:    "Wall-clock duration of one table's replication run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"table", "path"}),
	}
	reg.MustRegister(p.QueueDepth, p.RowsReplaced, p.RowsDeleted, p.Refetches, p.RunDuration)
	return p
}
