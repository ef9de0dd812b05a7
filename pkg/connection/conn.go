package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/google/uuid"
)

// pastDeadline is any deadline already in the past. Setting it unblocks
// pending reads and writes immediately.
var pastDeadline = time.Unix(1, 0)

// Conn is a borrowed handle on the Manager's active socket. Only the
// Manager closes the socket; a Conn whose I/O failed stays dead.
//
// A Conn supports one reader and one writer at a time.
type Conn struct {
	id     string
	mgr    *Manager
	nc     net.Conn
	stream *transport.Stream

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(m *Manager, nc net.Conn) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		mgr:    m,
		nc:     nc,
		stream: transport.NewStream(nc, m.framer),
	}
	if m.capture != nil {
		c.stream.SetLogger(m.capture, c.id)
	}
	return c
}

// ID returns the connection id (a UUID).
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// Alive reports whether the socket is still open.
func (c *Conn) Alive() bool { return !c.closed.Load() }

// WriteFrame writes msg as one frame.
//
// An oversized msg returns transport.ErrMessageTooLarge and leaves the
// connection untouched. Any I/O failure drops the connection and returns an
// error matching ErrConnectionLost; cancellation returns ErrCancelled.
func (c *Conn) WriteFrame(ctx context.Context, msg []byte) error {
	if err := c.mgr.framer.Check(msg); err != nil {
		return err
	}
	if err := c.ready(ctx); err != nil {
		return err
	}

	_ = c.nc.SetWriteDeadline(deadline(c.mgr.config.WriteTimeout))
	release := c.interruptOn(ctx)
	err := c.stream.WriteFrame(msg)
	release()
	if err != nil {
		return c.fail(ctx, "write", err)
	}

	c.mgr.metrics.FrameSent(transport.FrameSize(len(msg)))
	return nil
}

// ReadFrame blocks until one complete frame arrives and returns its payload.
//
// A clean close, reset, timeout or truncated frame drops the connection and
// returns an error matching ErrConnectionLost (and the cause, such as
// transport.ErrStreamClosed). A length header above the maximum drops the
// connection and returns transport.ErrCorruptFrame. Cancellation returns
// ErrCancelled.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	_ = c.nc.SetReadDeadline(deadline(c.mgr.config.ReadTimeout))
	release := c.interruptOn(ctx)
	msg, err := c.stream.ReadFrame()
	release()
	if err != nil {
		return nil, c.fail(ctx, "read", err)
	}

	c.mgr.metrics.FrameReceived(transport.FrameSize(len(msg)))
	return msg, nil
}

func (c *Conn) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if c.closed.Load() {
		return fmt.Errorf("%w: %s: %w", ErrConnectionLost, c.id, net.ErrClosed)
	}
	return nil
}

// interruptOn arms ctx to unblock pending I/O. The returned release must
// be called once the I/O returns; it waits for an in-flight interrupt so a
// late deadline poke cannot hit the next operation.
func (c *Conn) interruptOn(ctx context.Context) (release func()) {
	poked := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(pastDeadline)
		close(poked)
	})
	return func() {
		if !stop() {
			<-poked
		}
	}
}

// fail drops the connection and classifies err.
func (c *Conn) fail(ctx context.Context, op string, err error) error {
	c.closeSocket()
	c.mgr.connectionLost(c, err)

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", ErrCancelled, op, ctx.Err())
	case errors.Is(err, transport.ErrCorruptFrame):
		c.mgr.metrics.CorruptFrame()
		return fmt.Errorf("%s %s: %w", op, c.id, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnectionLost, op, c.id, err)
}

func (c *Conn) closeSocket() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
