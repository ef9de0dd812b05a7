package session

import (
	"time"

	"github.com/echolink/echolink-go/pkg/connection"
	"github.com/echolink/echolink-go/pkg/log"
	"github.com/echolink/echolink-go/pkg/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHandshakeTimeout bounds the welcome/greeting exchange.
const DefaultHandshakeTimeout = 5 * time.Second

// Config configures a Session.
type Config struct {
	// Connection holds socket, backoff and size settings.
	Connection connection.Config

	// AwaitWelcome reads one frame from the server right after connecting,
	// before anything is sent. The frame is available from Welcome.
	AwaitWelcome bool

	// Greeting, when non-nil, is sent on every new connection after the
	// welcome (if any).
	Greeting []byte

	// HandshakeTimeout bounds the welcome/greeting exchange.
	// Zero means only the caller's context bounds it.
	HandshakeTimeout time.Duration

	// Logger is the operational logger (nil discards).
	Logger *zerolog.Logger

	// ProtocolLogger captures frames, state changes and errors (nil disables).
	ProtocolLogger log.Logger

	// Metrics records client metrics (nil disables).
	Metrics *metrics.Metrics

	// Dialer replaces the default TCP dialer.
	Dialer connection.Dialer

	// TracerProvider provides the tracer for Send/Receive spans.
	// Default: the global otel provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Connection:       connection.DefaultConfig(),
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Stats summarizes a session's history.
type Stats struct {
	Sent            uint64
	Received        uint64
	ConnectionsLost uint64
	Reconnects      uint64
	CorruptFrames   uint64
	SkippedMessages uint64

	// LastError is the most recent error returned by an operation.
	LastError error
}
