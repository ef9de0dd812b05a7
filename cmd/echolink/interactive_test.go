package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolink/echolink-go/internal/testutil/echoserver"
	"github.com/echolink/echolink-go/internal/testutil/testlog"
	"github.com/echolink/echolink-go/pkg/connection"
	"github.com/echolink/echolink-go/pkg/session"
)

// scriptedLines replays lines, then reports io.EOF.
type scriptedLines struct {
	lines []string
	errs  map[int]error
	pos   int
}

func (s *scriptedLines) Readline() (string, error) {
	defer func() { s.pos++ }()
	if err, ok := s.errs[s.pos]; ok {
		return "", err
	}
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	return s.lines[s.pos], nil
}

func newTestRepl(t *testing.T, lines ...string) (*repl, *bytes.Buffer, *echoserver.Server) {
	t.Helper()
	srv := echoserver.Start(t)

	cfg := session.DefaultConfig()
	cfg.Connection.Backoff = connection.Backoff{BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	cfg.Logger = testlog.Start(t)
	s, err := session.New(srv.Endpoint(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	var out bytes.Buffer
	return &repl{
		session: s,
		in:      &scriptedLines{lines: lines},
		out:     &out,
		timeout: 5 * time.Second,
	}, &out, srv
}

func TestReplSendsLinesAndPrintsReplies(t *testing.T) {
	r, out, srv := newTestRepl(t, "Hello world", "  ", "status please", "/stats", "/bogus", "quit", "never sent")

	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Hello world\n")
	assert.Contains(t, text, "status please\n")
	assert.Contains(t, text, "sent=2 received=2 reconnects=0 lost=0")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "Exiting...")
	assert.NotContains(t, text, "never sent")
	assert.Equal(t, 2, srv.Echoed())
}

func TestReplRecoversAfterServerDrop(t *testing.T) {
	r, out, srv := newTestRepl(t)
	ctx := context.Background()

	reply, err := r.exchange(ctx, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(reply))

	srv.DropAll()

	// The drop surfaces on at most one exchange; the next one reconnects.
	if _, err := r.exchange(ctx, []byte("two")); err != nil {
		assert.ErrorIs(t, err, session.ErrConnectionLost)
	}
	reply, err = r.exchange(ctx, []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, "three", string(reply))
	assert.Equal(t, 2, srv.Accepted())
	assert.Empty(t, out.String())
}

func TestReplIgnoresInterruptAndStopsOnEOF(t *testing.T) {
	r, out, _ := newTestRepl(t, "ping")
	r.in = &scriptedLines{
		lines: []string{"", "ping"},
		errs:  map[int]error{0: readline.ErrInterrupt},
	}

	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, out.String(), "ping\n")
	assert.Contains(t, out.String(), "Exiting...")
}

func TestReplStopsOnCancelledContext(t *testing.T) {
	r, out, srv := newTestRepl(t, "ping")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.run(ctx))
	assert.NotContains(t, out.String(), "ping")
	assert.Zero(t, srv.Accepted())
}
