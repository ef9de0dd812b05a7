package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/echolink/echolink-go/pkg/connection"
	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/echolink/echolink-go/pkg/session"

// Session is a resilient client for one endpoint.
type Session struct {
	mgr    *connection.Manager
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer

	// ctx lives until Stop.
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu            sync.Mutex
	stats         Stats
	welcome       []byte
	everConnected bool
}

// New creates a session for endpoint. It does not connect; the first Send
// or Receive does.
func New(endpoint transport.Endpoint, cfg Config) (*Session, error) {
	if endpoint.IsZero() {
		return nil, fmt.Errorf("%w: zero endpoint", transport.ErrInvalidEndpoint)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		logger: logger.With().Str("component", "session").Str("endpoint", endpoint.Address()).Logger(),
		tracer: tp.Tracer(tracerName),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := []connection.Option{
		connection.WithLogger(&logger),
		connection.WithProtocolLogger(cfg.ProtocolLogger),
		connection.WithMetrics(cfg.Metrics),
	}
	if cfg.Dialer != nil {
		opts = append(opts, connection.WithDialer(cfg.Dialer))
	}
	if cfg.AwaitWelcome || cfg.Greeting != nil {
		opts = append(opts, connection.WithHandshake(s.handshake))
	}

	s.mgr = connection.NewManager(endpoint, cfg.Connection, opts...)
	s.mgr.OnStateChange(s.stateChanged)
	return s, nil
}

// Manager exposes the underlying connection manager.
func (s *Session) Manager() *connection.Manager { return s.mgr }

// State returns the connection state.
func (s *Session) State() connection.State { return s.mgr.State() }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Welcome returns the welcome frame of the current (or last) connection.
// It is nil unless Config.AwaitWelcome is set.
func (s *Session) Welcome() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.welcome
}

// Send delivers msg as one frame, connecting first if necessary.
//
// Errors: ErrMessageTooLarge (checked before any connection attempt),
// ErrConnectionLost, ErrCancelled, and ErrConnect only when
// Config.Connection.MaxAttempts is set. A failed Send is not retried.
func (s *Session) Send(ctx context.Context, msg []byte) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("echolink.message_size", len(msg))),
	)
	defer func() {
		err = s.stopped(err)
		s.finish(span, err)
	}()

	if err := s.mgr.Framer().Check(msg); err != nil {
		return err
	}

	ctx, done := s.opContext(ctx)
	defer done()

	c, err := s.mgr.EnsureConnected(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("echolink.conn_id", c.ID()))
	if err := c.WriteFrame(ctx, msg); err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
	return nil
}

// Receive waits for the next message, connecting first if necessary.
//
// Errors: ErrConnectionLost, ErrCorruptFrame, ErrCancelled, and ErrConnect
// only when Config.Connection.MaxAttempts is set.
func (s *Session) Receive(ctx context.Context) (msg []byte, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Receive", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		err = s.stopped(err)
		span.SetAttributes(attribute.Int("echolink.message_size", len(msg)))
		s.finish(span, err)
	}()

	ctx, done := s.opContext(ctx)
	defer done()

	c, err := s.mgr.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("echolink.conn_id", c.ID()))
	msg, err = c.ReadFrame(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptFrame) {
			s.mu.Lock()
			s.stats.CorruptFrames++
			s.mu.Unlock()
		}
		return nil, err
	}

	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()
	return msg, nil
}

// Stop cancels every pending operation and closes the connection.
// It is safe to call more than once and from any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.mgr.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close")
		}
		s.logger.Info().Msg("session stopped")
	})
}

// opContext derives a context that also ends when the session stops.
func (s *Session) opContext(ctx context.Context) (context.Context, func()) {
	merged, cancel := context.WithCancel(ctx)
	if s.ctx.Err() != nil {
		cancel()
	}
	stop := context.AfterFunc(s.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
		// a connect racing with Stop can finish after Stop's Close
		if s.ctx.Err() != nil {
			_ = s.mgr.Close()
		}
	}
}

func (s *Session) handshake(ctx context.Context, c *connection.Conn) error {
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	if s.cfg.AwaitWelcome {
		welcome, err := c.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("await welcome: %w", err)
		}
		s.mu.Lock()
		s.welcome = welcome
		s.mu.Unlock()
		s.logger.Info().Str("conn_id", c.ID()).Bytes("welcome", welcome).Msg("welcome received")
	}
	if s.cfg.Greeting != nil {
		if err := c.WriteFrame(ctx, s.cfg.Greeting); err != nil {
			return fmt.Errorf("send greeting: %w", err)
		}
	}
	return nil
}

func (s *Session) stateChanged(old, next connection.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case old == connection.StateConnecting && next == connection.StateConnected:
		if s.everConnected {
			s.stats.Reconnects++
		}
		s.everConnected = true
	case old == connection.StateConnected && next == connection.StateDisconnected:
		s.stats.ConnectionsLost++
	}
}

// stopped reports errors caused by Stop as ErrCancelled. Stop closes the
// socket, which can surface as a lost connection before the cancellation
// reaches the blocked call.
func (s *Session) stopped(err error) error {
	if err == nil || s.ctx.Err() == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: session stopped: %w", ErrCancelled, err)
}

func (s *Session) finish(span trace.Span, err error) {
	if err != nil {
		s.mu.Lock()
		s.stats.LastError = err
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
