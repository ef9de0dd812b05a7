// Package config loads echolink client settings from YAML or TOML files
// and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/echolink/echolink-go/pkg/connection"
	"github.com/echolink/echolink-go/pkg/session"
	"github.com/echolink/echolink-go/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvHost = "ECHOLINK_HOST"
	EnvPort = "ECHOLINK_PORT"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// File is the on-disk configuration. Durations are Go duration strings
// ("500ms", "1m").
type File struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	// Discover names an mDNS service type ("_echolink._tcp"). When set, the
	// endpoint is resolved through it and Host and Port are not used. A
	// --host flag clears it.
	Discover string `yaml:"discover" toml:"discover"`

	ConnectTimeout string `yaml:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout" toml:"write_timeout"`
	KeepAlive      string `yaml:"keep_alive" toml:"keep_alive"`

	Backoff BackoffSection `yaml:"backoff" toml:"backoff"`

	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	MaxAttempts    int `yaml:"max_attempts" toml:"max_attempts"`

	AwaitWelcome     bool   `yaml:"await_welcome" toml:"await_welcome"`
	Greeting         string `yaml:"greeting" toml:"greeting"`
	HandshakeTimeout string `yaml:"handshake_timeout" toml:"handshake_timeout"`

	Log     LogSection     `yaml:"log" toml:"log"`
	Metrics MetricsSection `yaml:"metrics" toml:"metrics"`
}

// BackoffSection holds the reconnect delays as duration strings.
type BackoffSection struct {
	BaseDelay string `yaml:"base_delay" toml:"base_delay"`
	MaxDelay  string `yaml:"max_delay" toml:"max_delay"`
}

// LogSection configures the process logger and protocol capture.
type LogSection struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
	// ProtocolLog is a capture file path (.elog); empty disables capture.
	ProtocolLog string `yaml:"protocol_log" toml:"protocol_log"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address of /metrics and /healthz; empty disables.
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns the built-in settings: the local server on port 15000.
func Default() File {
	return File{
		Host:           "127.0.0.1",
		Port:           15000,
		ConnectTimeout: connection.DefaultConnectTimeout.String(),
		ReadTimeout:    "0s",
		WriteTimeout:   connection.DefaultWriteTimeout.String(),
		KeepAlive:      connection.DefaultKeepAlive.String(),
		Backoff: BackoffSection{
			BaseDelay: connection.DefaultBaseDelay.String(),
			MaxDelay:  connection.DefaultMaxDelay.String(),
		},
		MaxMessageSize:   transport.DefaultMaxMessageSize,
		HandshakeTimeout: session.DefaultHandshakeTimeout.String(),
		Log:              LogSection{Level: "info"},
	}
}

// Load reads path on top of Default. The format follows the extension:
// .yaml/.yml or .toml. Unknown keys are an error.
func Load(path string) (File, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("load config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return File{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return File{}, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
		}
	default:
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return cfg, nil
}

// ApplyEnv overrides Host and Port from ECHOLINK_HOST and ECHOLINK_PORT.
func (f *File) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvHost)); v != "" {
		f.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		f.Port = port
	}
	return nil
}

// Validate reports every invalid setting at once.
func (f File) Validate() error {
	var errs []error
	if f.Host == "" && f.Discover == "" {
		errs = append(errs, errors.New("host or discover must be set"))
	}
	if f.Host != "" {
		if _, err := transport.NewEndpoint(f.Host, f.Port); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := f.connectionConfig(); err != nil {
		errs = append(errs, err)
	}
	switch {
	case f.MaxMessageSize < 0:
		errs = append(errs, fmt.Errorf("max_message_size %d is negative", f.MaxMessageSize))
	case uint64(f.MaxMessageSize) > transport.MaxFrameSize:
		errs = append(errs, fmt.Errorf("max_message_size %d exceeds %d", f.MaxMessageSize, uint64(transport.MaxFrameSize)))
	}
	if f.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_attempts %d is negative", f.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Endpoint returns the configured Host and Port.
func (f File) Endpoint() (transport.Endpoint, error) {
	return transport.NewEndpoint(f.Host, f.Port)
}

// SessionConfig converts the file into session settings. Loggers, metrics
// and tracing are left for the caller to attach.
func (f File) SessionConfig() (session.Config, error) {
	conn, err := f.connectionConfig()
	if err != nil {
		return session.Config{}, err
	}
	handshake, err := parseDuration("handshake_timeout", f.HandshakeTimeout)
	if err != nil {
		return session.Config{}, err
	}

	cfg := session.Config{
		Connection:       conn,
		AwaitWelcome:     f.AwaitWelcome,
		HandshakeTimeout: handshake,
	}
	if f.Greeting != "" {
		cfg.Greeting = []byte(f.Greeting)
	}
	return cfg, nil
}

func (f File) connectionConfig() (connection.Config, error) {
	cfg := connection.Config{
		MaxMessageSize: f.MaxMessageSize,
		MaxAttempts:    f.MaxAttempts,
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", f.ConnectTimeout, &cfg.ConnectTimeout},
		{"read_timeout", f.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", f.WriteTimeout, &cfg.WriteTimeout},
		{"keep_alive", f.KeepAlive, &cfg.KeepAlive},
		{"backoff.base_delay", f.Backoff.BaseDelay, &cfg.Backoff.BaseDelay},
		{"backoff.max_delay", f.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	var errs []error
	for _, d := range durations {
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return connection.Config{}, err
	}
	if cfg.Backoff.MaxDelay > 0 && cfg.Backoff.MaxDelay < cfg.Backoff.BaseDelay {
		return connection.Config{}, fmt.Errorf("backoff.max_delay %s is below base_delay %s",
			cfg.Backoff.MaxDelay, cfg.Backoff.BaseDelay)
	}
	return cfg, nil
}

// parseDuration treats an empty string as zero.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, raw)
	}
	return d, nil
}
