// Package echoserver runs a framed echo server on loopback for tests.
package echoserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/echolink/echolink-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Server echoes every frame it receives back to the sender.
type Server struct {
	ln      net.Listener
	logger  zerolog.Logger
	welcome []byte
	// closeAfter closes each connection after this many echoes (0 = never).
	closeAfter int
	handler    func(net.Conn)

	accepted atomic.Int64
	echoed   atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithWelcome sends msg as the first frame on every connection.
func WithWelcome(msg []byte) Option {
	return func(s *Server) { s.welcome = msg }
}

// WithCloseAfter closes each connection after n echoed frames.
func WithCloseAfter(n int) Option {
	return func(s *Server) { s.closeAfter = n }
}

// WithHandler replaces the echo loop with fn. fn owns the connection until
// it returns; the server closes it afterwards.
func WithHandler(fn func(net.Conn)) Option {
	return func(s *Server) { s.handler = fn }
}

// WithLogger sets the server logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.With().Str("component", "echoserver").Logger()
		}
	}
}

// Start listens on an ephemeral loopback port and serves until the test
// ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echoserver listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		logger: zerolog.Nop(),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the listen address as an Endpoint.
func (s *Server) Endpoint() transport.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	ep, _ := transport.NewEndpoint(addr.IP.String(), addr.Port)
	return ep
}

// Accepted returns the number of accepted connections.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Echoed returns the number of frames echoed so far.
func (s *Server) Echoed() int { return int(s.echoed.Load()) }

// DropAll closes every open connection without stopping the listener.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the listener, drops all connections and waits for handlers.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("accept failed")
			}
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	if s.handler != nil {
		s.handler(c)
		return
	}

	stream := transport.NewStream(c, nil)
	if s.welcome != nil {
		if err := stream.WriteFrame(s.welcome); err != nil {
			return
		}
	}
	for n := 0; s.closeAfter == 0 || n < s.closeAfter; n++ {
		msg, err := stream.ReadFrame()
		if err != nil {
			s.logger.Debug().Err(err).Msg("read ended")
			return
		}
		if err := stream.WriteFrame(msg); err != nil {
			return
		}
		s.echoed.Add(1)
	}
	s.logger.Debug().Int("echoed", s.closeAfter).Msg("closing after limit")
}
