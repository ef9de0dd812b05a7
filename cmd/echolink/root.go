package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/echolink/echolink-go/internal/logging"
	"github.com/echolink/echolink-go/pkg/config"
	"github.com/echolink/echolink-go/pkg/discovery"
	"github.com/echolink/echolink-go/pkg/log"
	"github.com/echolink/echolink-go/pkg/metrics"
	"github.com/echolink/echolink-go/pkg/session"
	"github.com/echolink/echolink-go/pkg/transport"
)

// rootOptions holds the global flags. Flags that were set on the command
// line win over the config file and the environment.
type rootOptions struct {
	configPath  string
	host        string
	port        int
	discover    string
	logLevel    string
	logJSON     bool
	protocolLog string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "echolink",
		Short: "Resilient client for length-prefixed TCP servers",
		Long: `echolink keeps a connection to a server that exchanges messages framed
with a 4-byte big-endian length prefix. Lost connections are re-established
with exponential backoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	flags.StringVar(&opts.host, "host", "", "Server host (default 127.0.0.1)")
	flags.IntVarP(&opts.port, "port", "p", 0, "Server port (default 15000)")
	flags.StringVar(&opts.discover, "discover", "", "Resolve the server over mDNS, e.g. _echolink._tcp")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Log as JSON lines")
	flags.StringVar(&opts.protocolLog, "protocol-log", "", "Capture frames and state changes to this file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")

	cmd.AddCommand(
		runCmd(opts),
		interactiveCmd(opts),
		logCmd(),
		versionCmd(),
	)
	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.File, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.File{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.File{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
		cfg.Discover = ""
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("discover") {
		cfg.Discover = o.discover
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	if flags.Changed("protocol-log") {
		cfg.Log.ProtocolLog = o.protocolLog
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.File{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// client bundles a session with the resources the CLI opened for it.
type client struct {
	cfg     config.File
	logger  zerolog.Logger
	session *session.Session
	capture *log.FileLogger
}

// newClient builds the logger, capture, metrics and session described by
// the flags. Metrics are served until ctx is done.
func newClient(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*client, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	lcfg := logging.DefaultConfig(logging.ProfileRuntime)
	if cfg.Log.Level != "" {
		lvl, ok := logging.ParseLevel(cfg.Log.Level)
		if !ok {
			return nil, fmt.Errorf("invalid log level %q", cfg.Log.Level)
		}
		lcfg.Level = lvl
	}
	lcfg.JSON = cfg.Log.JSON
	logging.ApplyEnv(&lcfg)
	lcfg.Out = cmd.ErrOrStderr()
	logger := logging.New("echolink", lcfg)

	c := &client{cfg: cfg, logger: logger}

	endpoint, err := c.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	scfg, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	scfg.Logger = &c.logger

	var sinks []log.Logger
	if path := cfg.Log.ProtocolLog; path != "" {
		if c.capture, err = log.NewFileLogger(path); err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		sinks = append(sinks, c.capture)
	}
	if logger.GetLevel() <= zerolog.DebugLevel {
		sinks = append(sinks, log.NewZerologAdapter(&c.logger))
	}
	if len(sinks) > 0 {
		scfg.ProtocolLogger = log.Tee(sinks...)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
		scfg.Metrics = metrics.New(metrics.WithRegistry(registry))
	}

	c.session, err = session.New(endpoint, scfg)
	if err != nil {
		c.close()
		return nil, err
	}

	if registry != nil {
		handler := metrics.NewHandler(registry, c.session.Manager().IsConnected)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, handler, &c.logger); err != nil {
				c.logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint failed")
			}
		}()
	}

	return c, nil
}

func (c *client) endpoint(ctx context.Context) (transport.Endpoint, error) {
	if c.cfg.Discover == "" {
		return c.cfg.Endpoint()
	}
	r := discovery.NewResolver(discovery.Config{
		Service: c.cfg.Discover,
		Logger:  &c.logger,
	})
	return r.Resolve(ctx)
}

func (c *client) close() {
	if c.session != nil {
		c.session.Stop()
	}
	if c.capture != nil {
		if err := c.capture.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("closing protocol log")
		}
	}
}
