// Package metrics provides Prometheus metrics for confirmd.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/postalsys/confirmd/internal/udp"
)

const (
	namespace = "confirmd"
)

var _ udp.StatsRecorder = (*Metrics)(nil)

// Metrics contains all Prometheus metrics for the receiver.
type Metrics struct {
	// Socket metrics
	SocketsActive prometheus.Gauge
	SocketsOpened prometheus.Counter
	BindFailures  *prometheus.CounterVec

	// Datagram metrics
	DatagramsReceived *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	DatagramSize      prometheus.Histogram
	ReceiveErrors     *prometheus.CounterVec

	// Confirmation metrics
	ConfirmationsSent *prometheus.CounterVec
	ConfirmErrors     *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SocketsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets_active",
			Help:      "Number of currently bound UDP sockets",
		}),
		SocketsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sockets_opened_total",
			Help:      "Total number of UDP sockets bound",
		}),
		BindFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_failures_total",
			Help:      "Total failed binds by reason",
		}, []string{"reason"}),

		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams received by local port",
		}, []string{"port"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received by local port",
		}, []string{"port"}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datagram_size_bytes",
			Help:      "Histogram of received datagram sizes",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 7),
		}),
		ReceiveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total failed receive completions by local port",
		}, []string{"port"}),

		ConfirmationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_sent_total",
			Help:      "Total confirmations written by local port",
		}, []string{"port"}),
		ConfirmErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_errors_total",
			Help:      "Total failed confirmation sends by local port",
		}, []string{"port"}),
	}
}

func portLabel(port uint16) string {
	return strconv.Itoa(int(port))
}

// RecordSocketOpen records a newly bound socket.
func (m *Metrics) RecordSocketOpen(port uint16) {
	m.SocketsActive.Inc()
	m.SocketsOpened.Inc()
}

// RecordSocketClose records a released socket.
func (m *Metrics) RecordSocketClose(port uint16) {
	m.SocketsActive.Dec()
}

// RecordBindFailure records a failed bind. reason is "in_use" or "transport".
func (m *Metrics) RecordBindFailure(port uint16, reason string) {
	m.BindFailures.WithLabelValues(reason).Inc()
}

// RecordReceive records a datagram received without error.
func (m *Metrics) RecordReceive(port uint16, bytes int) {
	label := portLabel(port)
	m.DatagramsReceived.WithLabelValues(label).Inc()
	m.BytesReceived.WithLabelValues(label).Add(float64(bytes))
	m.DatagramSize.Observe(float64(bytes))
}

// RecordReceiveError records a failed receive completion.
func (m *Metrics) RecordReceiveError(port uint16) {
	m.ReceiveErrors.WithLabelValues(portLabel(port)).Inc()
}

// RecordConfirm records a confirmation written without error.
func (m *Metrics) RecordConfirm(port uint16) {
	m.ConfirmationsSent.WithLabelValues(portLabel(port)).Inc()
}

// RecordConfirmError records a failed confirmation send.
func (m *Metrics) RecordConfirmError(port uint16) {
	m.ConfirmErrors.WithLabelValues(portLabel(port)).Inc()
}
