package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics records request, escrow, PIN and biometric activity of the
// client. All methods are safe on a nil receiver.
type ClientMetrics struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	pinAttempts *prometheus.CounterVec
	biometric   *prometheus.CounterVec
}

var (
	clientOnce     sync.Once
	clientRegistry *ClientMetrics
)

// Client returns the process-wide metrics registered on the default registry.
func Client() *ClientMetrics {
	clientOnce.Do(func() {
		clientRegistry = New(prometheus.DefaultRegisterer)
	})
	return clientRegistry
}

// New builds a metrics set registered on reg. A nil registerer leaves the
// collectors unregistered, which suits tests that only read them directly.
func New(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowkit",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Backend requests segmented by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrowkit",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for backend requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowkit",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "Requests that waited on or were rejected by the client rate limiter.",
		}, []string{"endpoint"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowkit",
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Escrow transition requests segmented by action and outcome.",
		}, []string{"action", "outcome"}),
		pinAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowkit",
			Subsystem: "pin",
			Name:      "attempts_total",
			Help:      "Transaction PIN confirmations segmented by result.",
		}, []string{"result"}),
		biometric: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowkit",
			Subsystem: "biometric",
			Name:      "operations_total",
			Help:      "Biometric enable, disable and bypass attempts segmented by outcome.",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.throttles, m.transitions, m.pinAttempts, m.biometric)
	}
	return m
}

// ObserveRequest records one backend round trip. Status 0 means the request
// never produced an HTTP response.
func (m *ClientMetrics) ObserveRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	endpoint = label(endpoint)
	outcome := "success"
	switch {
	case status == 0:
		outcome = "transport_error"
	case status >= 400:
		outcome = "http_" + strconv.Itoa(status)
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.latency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordThrottle counts a request delayed or rejected by the rate limiter.
func (m *ClientMetrics) RecordThrottle(endpoint string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(endpoint)).Inc()
}

// RecordTransition counts an escrow transition outcome such as "success",
// "failed", "stale" or "skipped".
func (m *ClientMetrics) RecordTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(action), label(outcome)).Inc()
}

// RecordPINAttempt counts a PIN confirmation result.
func (m *ClientMetrics) RecordPINAttempt(result string) {
	if m == nil {
		return
	}
	m.pinAttempts.WithLabelValues(label(result)).Inc()
}

// RecordBiometric counts a biometric operation outcome.
func (m *ClientMetrics) RecordBiometric(operation, outcome string) {
	if m == nil {
		return
	}
	m.biometric.WithLabelValues(label(operation), label(outcome)).Inc()
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
