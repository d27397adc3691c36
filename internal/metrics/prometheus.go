package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// connectionStates are exported as one gauge series each.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Recorder owns every collector of the process.
type Recorder struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	// REST client
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestRetries  *prometheus.CounterVec

	// Realtime connection
	connectionState *prometheus.GaugeVec
	reconnects      prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	outboundQueued  prometheus.Gauge

	// Dispatch
	eventsEmitted  *prometheus.CounterVec
	listenerPanics *prometheus.CounterVec

	// Journal
	journalRows          prometheus.Counter
	journalBatchDuration prometheus.Histogram
	journalFailures      prometheus.Counter
	journalPending       prometheus.Gauge
}

// New creates a Recorder. Without WithPrometheusRegistry it registers on a
// private registry that also carries the Go and process collectors.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "sportzy",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r.initialize()
	return r
}

func (r *Recorder) initialize() {
	auto := promauto.With(r.registry)

	r.requests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "REST request attempts by route, method and status (0 = no response)",
	}, []string{"method", "route", "status_code"})

	r.requestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "REST request attempt duration in seconds",
		Buckets:   r.buckets,
	}, []string{"method", "route"})

	r.requestRetries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "api",
		Name:      "retries_total",
		Help:      "REST request retries after transport failures",
	}, []string{"method", "route"})

	r.connectionState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "realtime",
		Name:      "connection_state",
		Help:      "1 for the current realtime connection state, 0 otherwise",
	}, []string{"state"})

	r.reconnects = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "realtime",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled",
	})

	r.framesReceived = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "realtime",
		Name:      "frames_received_total",
		Help:      "Decoded inbound frames by type",
	}, []string{"type"})

	r.framesDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "realtime",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped by reason",
	}, []string{"reason"})

	r.outboundQueued = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "realtime",
		Name:      "outbound_queued",
		Help:      "Outbound frames waiting for the connection to open",
	})

	r.eventsEmitted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Events emitted by kind",
	}, []string{"kind"})

	r.listenerPanics = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "dispatch",
		Name:      "listener_panics_total",
		Help:      "Listener panics recovered by kind",
	}, []string{"kind"})

	r.journalRows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "journal",
		Name:      "rows_written_total",
		Help:      "Rows written to the event journal",
	})

	r.journalBatchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: "journal",
		Name:      "batch_duration_seconds",
		Help:      "Journal batch insert duration in seconds",
		Buckets:   r.buckets,
	})

	r.journalFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "journal",
		Name:      "batch_failures_total",
		Help:      "Journal batches that failed to insert",
	})

	r.journalPending = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "journal",
		Name:      "pending_rows",
		Help:      "Rows buffered for the next journal flush",
	})
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RequestCompleted records one REST attempt.
func (r *Recorder) RequestCompleted(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RequestRetried records a retry after a transport failure.
func (r *Recorder) RequestRetried(method, route string) {
	if r == nil {
		return
	}
	r.requestRetries.WithLabelValues(method, route).Inc()
}

// StateChanged marks state as the current connection state.
func (r *Recorder) StateChanged(state string) {
	if r == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.connectionState.WithLabelValues(s).Set(v)
	}
}

// ReconnectScheduled records a scheduled redial.
func (r *Recorder) ReconnectScheduled(attempt int) {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}

// FrameReceived records a decoded inbound frame.
func (r *Recorder) FrameReceived(kind string) {
	if r == nil {
		return
	}
	r.framesReceived.WithLabelValues(kind).Inc()
}

// FrameDropped records an inbound frame that could not be used.
func (r *Recorder) FrameDropped(reason string) {
	if r == nil {
		return
	}
	r.framesDropped.WithLabelValues(reason).Inc()
}

// QueueDepth sets the number of queued outbound frames.
func (r *Recorder) QueueDepth(n int) {
	if r == nil {
		return
	}
	r.outboundQueued.Set(float64(n))
}

// EventEmitted records a dispatched event.
func (r *Recorder) EventEmitted(kind string) {
	if r == nil {
		return
	}
	r.eventsEmitted.WithLabelValues(kind).Inc()
}

// ListenerPanicked records a recovered listener panic.
func (r *Recorder) ListenerPanicked(kind string) {
	if r == nil {
		return
	}
	r.listenerPanics.WithLabelValues(kind).Inc()
}

// BatchWritten records a successful journal batch.
func (r *Recorder) BatchWritten(rows int, d time.Duration) {
	if r == nil {
		return
	}
	r.journalRows.Add(float64(rows))
	r.journalBatchDuration.Observe(d.Seconds())
}

// BatchFailed records a failed journal batch.
func (r *Recorder) BatchFailed(rows int) {
	if r == nil {
		return
	}
	r.journalFailures.Inc()
}

// JournalPending sets the number of buffered journal rows.
func (r *Recorder) JournalPending(n int) {
	if r == nil {
		return
	}
	r.journalPending.Set(float64(n))
}
