package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolink/echolink-go/internal/testutil/echoserver"
	"github.com/echolink/echolink-go/pkg/config"
	"github.com/echolink/echolink-go/pkg/session"
	"github.com/echolink/echolink-go/pkg/transport"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func serverArgs(ep transport.Endpoint) []string {
	return []string{"--host", ep.Host(), "--port", strconv.Itoa(ep.Port()), "--log-level", "error"}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunEchoesPayload(t *testing.T) {
	srv := echoserver.Start(t)

	args := append(serverArgs(srv.Endpoint()), "run", "--count", "3", "--interval", "5ms", "--payload", "ping")
	out, err := execute(t, args...)
	require.NoError(t, err)

	assert.Equal(t, "ping\nping\nping\n", out)
	assert.Equal(t, 3, srv.Echoed())
	assert.Equal(t, 1, srv.Accepted())
}

func TestRunPrintsWelcome(t *testing.T) {
	srv := echoserver.Start(t, echoserver.WithWelcome([]byte("Welcome to the server")))
	cfgPath := writeFile(t, "client.yaml", "port: 1\nawait_welcome: true\ngreeting: Hello world\n")

	args := append([]string{"--config", cfgPath}, serverArgs(srv.Endpoint())...)
	args = append(args, "run", "-n", "2", "--interval", "5ms")
	out, err := execute(t, args...)
	require.NoError(t, err)

	// The greeting is echoed back first.
	assert.Equal(t, "welcome: Welcome to the server\nHello world\noutput\n", out)
}

func TestRunGivesUpOnUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfgPath := writeFile(t, "client.toml", `
max_attempts = 2

[backoff]
base_delay = "5ms"
max_delay = "10ms"
`)

	_, err = execute(t, "--config", cfgPath, "--port", strconv.Itoa(port), "--log-level", "error", "run")
	assert.ErrorIs(t, err, session.ErrConnect)
}

func TestRunCountSurvivesDroppedConnections(t *testing.T) {
	srv := echoserver.Start(t, echoserver.WithCloseAfter(1))
	cfgPath := writeFile(t, "client.toml", `
[backoff]
base_delay = "5ms"
max_delay = "10ms"
`)

	args := append([]string{"--config", cfgPath}, serverArgs(srv.Endpoint())...)
	args = append(args, "run", "--count", "3", "--interval", "5ms", "--payload", "ping")
	out, err := execute(t, args...)
	require.NoError(t, err)

	assert.Equal(t, "ping\nping\nping\n", out)
	assert.Equal(t, 3, srv.Echoed())
	assert.Equal(t, 3, srv.Accepted())
}

func TestRunGivesUpWhenServerNeverAnswers(t *testing.T) {
	// Accept, then hang up without replying.
	srv := echoserver.Start(t, echoserver.WithHandler(func(net.Conn) {}))
	cfgPath := writeFile(t, "client.toml", `
[backoff]
base_delay = "5ms"
max_delay = "10ms"
`)

	args := append([]string{"--config", cfgPath}, serverArgs(srv.Endpoint())...)
	args = append(args, "run", "--count", "1", "--interval", "5ms", "--max-lost", "2")
	out, err := execute(t, args...)

	assert.ErrorIs(t, err, errTooManyLost)
	assert.Empty(t, out)
	assert.GreaterOrEqual(t, srv.Accepted(), 3)
}

func TestRunReportsMissingReplies(t *testing.T) {
	srv := echoserver.Start(t, echoserver.WithHandler(func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(serverArgs(srv.Endpoint()), "run", "--count", "2", "--interval", "5ms"))
	err := cmd.ExecuteContext(ctx)

	assert.ErrorIs(t, err, session.ErrCancelled)
	assert.ErrorContains(t, err, "stopped after 0 of 2 replies")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "--port", "70000", "run")
	assert.ErrorContains(t, err, "invalid config")

	_, err = execute(t, "--log-level", "loud", "run")
	assert.ErrorContains(t, err, "invalid log level")

	_, err = execute(t, "run", "--interval", "0s")
	assert.ErrorContains(t, err, "interval")

	_, err = execute(t, "run", "--max-lost", "-1")
	assert.ErrorContains(t, err, "max-lost")
}

func TestDiscoverTakesPrecedenceOverConfiguredHost(t *testing.T) {
	cfgPath := writeFile(t, "client.yaml", "host: 10.0.0.1\ndiscover: _echolink._tcp\n")

	load := func(args ...string) config.File {
		t.Helper()
		opts := &rootOptions{}
		cmd := &cobra.Command{Use: "echolink"}
		cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "")
		cmd.Flags().StringVar(&opts.host, "host", "", "")
		require.NoError(t, cmd.ParseFlags(args))
		cfg, err := opts.loadConfig(cmd)
		require.NoError(t, err)
		return cfg
	}

	cfg := load("--config", cfgPath)
	assert.Equal(t, "_echolink._tcp", cfg.Discover)

	cfg = load("--config", cfgPath, "--host", "127.0.0.1")
	assert.Empty(t, cfg.Discover)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestCaptureViewAndStats(t *testing.T) {
	srv := echoserver.Start(t)
	capture := filepath.Join(t.TempDir(), "client.elog")

	args := append(serverArgs(srv.Endpoint()), "--protocol-log", capture, "run", "-n", "2", "--interval", "5ms", "--payload", "ping")
	_, err := execute(t, args...)
	require.NoError(t, err)

	out, err := execute(t, "log", "stats", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "Connects:    1")
	assert.Contains(t, out, "Connections: 1")
	assert.Contains(t, out, "in 2 frames/16 bytes, out 2 frames/16 bytes")

	out, err = execute(t, "log", "view", "--direction", "out", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "OUT TRANSPORT Frame")
	assert.Contains(t, out, "Data: 70696e67")
	assert.NotContains(t, out, "IN  TRANSPORT")
	assert.NotContains(t, out, "State")

	out, err = execute(t, "log", "view", "--category", "state", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "CONNECTING -> CONNECTED")
	assert.NotContains(t, out, "Frame")
}

func TestLogViewRejectsBadFilters(t *testing.T) {
	path := writeFile(t, "empty.elog", "")

	_, err := execute(t, "log", "view", "--direction", "sideways", path)
	assert.ErrorContains(t, err, "invalid direction")

	_, err = execute(t, "log", "view", "--layer", "wire", path)
	assert.ErrorContains(t, err, "invalid layer")

	_, err = execute(t, "log", "view", "--category", "snapshot", path)
	assert.ErrorContains(t, err, "invalid category")

	_, err = execute(t, "log", "view", filepath.Join(t.TempDir(), "missing.elog"))
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "echolink dev")
	assert.Contains(t, out, "Go version:")
}
