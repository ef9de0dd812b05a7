// Package metrics exposes Prometheus collectors for echolink clients and a
// small HTTP handler serving them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "echolink").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// Metrics holds the client collectors. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	framesSent      prometheus.Counter
	framesReceived  prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	connectAttempts *prometheus.CounterVec
	connectionsLost prometheus.Counter
	corruptFrames   prometheus.Counter
	state           prometheus.Gauge
	backoffDelay    prometheus.Histogram
}

// New registers the collectors and returns them.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "echolink",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Metrics{
		framesSent:      counter("frames_sent_total", "Frames written to the server"),
		framesReceived:  counter("frames_received_total", "Frames read from the server"),
		bytesSent:       counter("bytes_sent_total", "Wire bytes written, length prefix included"),
		bytesReceived:   counter("bytes_received_total", "Wire bytes read, length prefix included"),
		connectionsLost: counter("connections_lost_total", "Established connections lost to I/O errors"),
		corruptFrames:   counter("corrupt_frames_total", "Frames rejected for an oversized length header"),

		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connect_attempts_total",
			Help:        "Connection attempts by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_state",
			Help:        "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 closing)",
			ConstLabels: cfg.ConstLabels,
		}),

		backoffDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "backoff_delay_seconds",
			Help:        "Delays waited before reconnect attempts",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
	}
}

// FrameSent records one outgoing frame of wireBytes bytes.
func (m *Metrics) FrameSent(wireBytes int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(wireBytes))
}

// FrameReceived records one incoming frame of wireBytes bytes.
func (m *Metrics) FrameReceived(wireBytes int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(wireBytes))
}

// ConnectAttempt records the outcome of one handshake.
func (m *Metrics) ConnectAttempt(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// ConnectionLost records a dropped connection.
func (m *Metrics) ConnectionLost() {
	if m == nil {
		return
	}
	m.connectionsLost.Inc()
}

// CorruptFrame records a rejected frame header.
func (m *Metrics) CorruptFrame() {
	if m == nil {
		return
	}
	m.corruptFrames.Inc()
}

// SetState records the numeric connection state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// BackoffWait records a delay waited before a reconnect attempt.
func (m *Metrics) BackoffWait(d time.Duration) {
	if m == nil {
		return
	}
	m.backoffDelay.Observe(d.Seconds())
}
