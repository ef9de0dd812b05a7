package connection

import (
	"context"
	"net"
	"time"

	"github.com/echolink/echolink-go/pkg/log"
	"github.com/echolink/echolink-go/pkg/metrics"
	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Default timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

// Config holds the Manager settings.
type Config struct {
	// ConnectTimeout bounds one TCP handshake. Zero means only the
	// caller's context bounds it.
	ConnectTimeout time.Duration

	// ReadTimeout bounds one frame read. Zero waits indefinitely, which is
	// what a client waiting for server pushes wants.
	ReadTimeout time.Duration

	// WriteTimeout bounds one frame write. Zero means no limit.
	WriteTimeout time.Duration

	// KeepAlive is the TCP keep-alive period of the default dialer.
	// Negative disables keep-alive.
	KeepAlive time.Duration

	// Backoff controls the reconnect delays of EnsureConnected.
	Backoff Backoff

	// MaxMessageSize is the largest payload in either direction.
	// Zero selects transport.DefaultMaxMessageSize.
	MaxMessageSize int

	// MaxAttempts limits the connection attempts of one EnsureConnected
	// call. Zero retries until success or cancellation.
	MaxAttempts int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		KeepAlive:      DefaultKeepAlive,
		Backoff:        DefaultBackoff(),
		MaxMessageSize: transport.DefaultMaxMessageSize,
	}
}

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// HandshakeFunc runs on every new connection before it is reported as
// Connected. Returning an error fails the attempt like a refused dial.
type HandshakeFunc func(ctx context.Context, c *Conn) error

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the operational logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = *l
		}
	}
}

// WithProtocolLogger enables protocol capture of frames, state changes and
// errors.
func WithProtocolLogger(l log.Logger) Option {
	return func(m *Manager) { m.capture = l }
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithHandshake installs a hook run on every new connection.
func WithHandshake(fn HandshakeFunc) Option {
	return func(m *Manager) { m.handshake = fn }
}
