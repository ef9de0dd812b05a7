package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/echolink/echolink-go/pkg/log"
	"github.com/echolink/echolink-go/pkg/metrics"
	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Manager manages the lifecycle of one client connection.
//
// Connect and EnsureConnected are serialized internally. Close may be called
// from any goroutine, including while EnsureConnected is waiting.
type Manager struct {
	endpoint transport.Endpoint
	config   Config
	framer   *transport.Framer

	dialer    Dialer
	handshake HandshakeFunc
	logger    zerolog.Logger
	capture   log.Logger
	metrics   *metrics.Metrics

	// opMu serializes connection attempts.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	active  *Conn
	attempt int

	// Callbacks
	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager for endpoint. No connection is made until
// Connect or EnsureConnected is called.
func NewManager(endpoint transport.Endpoint, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		endpoint: endpoint,
		config:   cfg,
		framer:   transport.NewFramer(cfg.MaxMessageSize),
		logger:   zerolog.Nop(),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &net.Dialer{KeepAlive: cfg.KeepAlive}
	}
	m.logger = m.logger.With().
		Str("component", "connection").
		Str("endpoint", endpoint.Address()).
		Logger()
	return m
}

// Endpoint returns the remote endpoint.
func (m *Manager) Endpoint() transport.Endpoint {
	return m.endpoint
}

// Framer returns the framer used for all connections.
func (m *Manager) Framer() *transport.Framer {
	return m.framer
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the backoff attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Current returns the live connection, or nil.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// OnStateChange sets a callback for state changes. It runs on the
// goroutine that caused the change, after the change took effect.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReconnecting sets a callback invoked before each backoff wait with the
// 1-based attempt number and the delay about to be waited.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// Connect performs exactly one connection attempt.
//
// On success the state goes Disconnected -> Connecting -> Connected and the
// backoff counter resets. On failure the state returns to Disconnected and
// the error matches ErrConnect, or ErrCancelled if ctx ended the attempt.
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	old, err := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.stateChanged(old, StateConnecting, "", "")

	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.config.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
	}
	nc, err := m.dialer.DialContext(dialCtx, "tcp", m.endpoint.Address())
	cancel()
	if err != nil {
		return nil, m.connectFailed(ctx, "", "dial", err)
	}

	c := newConn(m, nc)
	if m.handshake != nil {
		if err := m.handshake(ctx, c); err != nil {
			c.closeSocket()
			return nil, m.connectFailed(ctx, c.id, "handshake", err)
		}
	}

	m.mu.Lock()
	old, err = m.setStateLocked(StateConnected)
	if err == nil {
		m.active = c
		m.attempt = 0
	}
	m.mu.Unlock()
	if err != nil {
		c.closeSocket()
		return nil, err
	}

	m.metrics.ConnectAttempt(nil)
	m.logger.Info().
		Str("conn_id", c.id).
		Str("remote", nc.RemoteAddr().String()).
		Msg("connected")
	m.stateChanged(old, StateConnected, c.id, "")
	return c, nil
}

// connectFailed moves Connecting -> Disconnected and classifies err.
func (m *Manager) connectFailed(ctx context.Context, connID, op string, err error) error {
	m.mu.Lock()
	old, _ := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.metrics.ConnectAttempt(err)
	m.record(log.NewErrorEvent(connID, log.LayerConnection, op, err))
	m.stateChanged(old, StateDisconnected, connID, op+" failed")

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrCancelled, op, ctxErr)
	}
	m.logger.Debug().Err(err).Str("op", op).Msg("connect attempt failed")
	return fmt.Errorf("%w: %s %s: %w", ErrConnect, op, m.endpoint, err)
}

// EnsureConnected returns the live connection, connecting if needed.
//
// While disconnected it loops: wait Backoff.Delay(attempt), increment the
// attempt counter, Connect. It returns on success, when ctx is done
// (ErrCancelled), or after Config.MaxAttempts failed attempts (ErrConnect).
func (m *Manager) EnsureConnected(ctx context.Context) (*Conn, error) {
	if c := m.Current(); c != nil {
		return c, nil
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	var lastErr error
	for tries := 0; ; tries++ {
		if c := m.Current(); c != nil {
			return c, nil
		}
		if m.config.MaxAttempts > 0 && tries >= m.config.MaxAttempts {
			return nil, fmt.Errorf("%w: giving up after %d attempts: %w", ErrConnect, tries, lastErr)
		}

		m.mu.Lock()
		attempt := m.attempt
		onReconnecting := m.onReconnecting
		m.mu.Unlock()

		delay := m.config.Backoff.Delay(attempt)
		if onReconnecting != nil {
			onReconnecting(attempt+1, delay)
		}
		m.metrics.BackoffWait(delay)
		m.logger.Debug().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("waiting before connect")

		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: backoff: %w", ErrCancelled, err)
		}

		m.mu.Lock()
		m.attempt++
		m.mu.Unlock()

		c, err := m.connect(ctx)
		if err == nil {
			return c, nil
		}
		// a handshake timeout may carry ErrCancelled; only our own ctx stops the loop
		if ctx.Err() != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		lastErr = err
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("connect failed")
	}
}

// Close releases the active connection (Connected -> Closing ->
// Disconnected). It does nothing when not connected.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	c := m.active
	m.active = nil
	m.state = StateClosing
	err := c.closeSocket()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info().Str("conn_id", c.id).Msg("connection closed")
	m.stateChanged(StateConnected, StateClosing, c.id, "close requested")
	m.stateChanged(StateClosing, StateDisconnected, c.id, "")
	return err
}

// connectionLost drops c if it is still the active connection.
func (m *Manager) connectionLost(c *Conn, cause error) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.active = nil
	old, _ := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.metrics.ConnectionLost()
	m.logger.Warn().Str("conn_id", c.id).Err(cause).Msg("connection lost")
	m.record(log.NewErrorEvent(c.id, log.LayerConnection, "io", cause))
	m.stateChanged(old, StateDisconnected, c.id, cause.Error())
}

// setStateLocked applies next if the state machine allows it.
// m.mu must be held.
func (m *Manager) setStateLocked(next State) (State, error) {
	old := m.state
	if !old.CanTransitionTo(next) {
		return old, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, next)
	}
	m.state = next
	return old, nil
}

func (m *Manager) stateChanged(old, next State, connID, reason string) {
	m.metrics.SetState(int(next))
	m.logger.Debug().
		Str("from", old.String()).
		Str("to", next.String()).
		Str("conn_id", connID).
		Msg("state change")

	e := log.NewStateEvent(connID, log.LayerConnection, old.String(), next.String(), reason)
	m.record(e)

	m.mu.Lock()
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(old, next)
	}
}

func (m *Manager) record(e log.Event) {
	if m.capture == nil {
		return
	}
	e.Endpoint = m.endpoint.Address()
	m.capture.Log(e)
}
