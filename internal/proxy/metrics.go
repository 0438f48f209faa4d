package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects per-instance forwarding statistics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	running        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revproxy_requests_total",
				Help: "Requests handled, by proxy configuration and response status",
			},
			[]string{"config_id", "code"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revproxy_upstream_errors_total",
				Help: "Requests that failed to reach the remote origin",
			},
			[]string{"config_id", "kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revproxy_request_duration_seconds",
				Help:    "Time from request receipt to the end of the response",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"config_id"},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "revproxy_running_instances",
				Help: "Number of running proxy instances",
			},
		),
	}
}

func (m *Metrics) observeRequest(id string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(id, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(id).Observe(elapsed.Seconds())
}

func (m *Metrics) upstreamError(id, kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(id, kind).Inc()
}

// SetRunning records the number of running instances.
func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

// Forget drops the per-configuration series for id.
func (m *Metrics) Forget(id string) {
	if m == nil {
		return
	}
	m.requests.DeletePartialMatch(prometheus.Labels{"config_id": id})
	m.upstreamErrors.DeletePartialMatch(prometheus.Labels{"config_id": id})
	m.duration.DeleteLabelValues(id)
}
