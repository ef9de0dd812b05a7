package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog"

	"github.com/echolink/echolink-go/pkg/transport"
)

const (
	// Domain is the mDNS domain browsed by default.
	Domain = "local."

	// DefaultService is the service type announced by echolink servers.
	DefaultService = "_echolink._tcp"

	// DefaultTimeout bounds a single Resolve call.
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrNotFound is returned when no usable announcement arrives in time.
	ErrNotFound = errors.New("discovery: service not found")

	// ErrNoAddress is returned for an entry without port or address.
	ErrNoAddress = errors.New("discovery: entry has no usable address")
)

// browseFunc streams entries for service until ctx ends.
type browseFunc func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error

// Config configures a Resolver.
type Config struct {
	// Service is the DNS-SD service type, e.g. "_echolink._tcp".
	Service string

	// Domain defaults to "local.".
	Domain string

	// Instance restricts resolution to one announced instance name.
	// Empty accepts any instance.
	Instance string

	// Interface limits browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Timeout bounds Resolve. Default: 5 seconds.
	Timeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		Service: DefaultService,
		Domain:  Domain,
		Timeout: DefaultTimeout,
	}
}

// Resolver finds an endpoint by browsing mDNS.
type Resolver struct {
	config Config
	logger zerolog.Logger
	browse browseFunc
}

// NewResolver creates a resolver. Zero fields of config take defaults.
func NewResolver(config Config) *Resolver {
	def := DefaultConfig()
	if config.Service == "" {
		config.Service = def.Service
	}
	if config.Domain == "" {
		config.Domain = def.Domain
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "discovery").Logger()
	}

	r := &Resolver{config: config, logger: logger}
	r.browse = r.zeroconfBrowse
	return r
}

// Resolve browses until the first matching announcement and returns its
// endpoint, or ErrNotFound once the timeout or ctx expires.
func (r *Resolver) Resolve(ctx context.Context) (transport.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func(entries, removed chan *zeroconf.ServiceEntry) {
		browseErr <- r.browse(ctx, r.config.Service, entries, removed)
	}(entries, removed)

	r.logger.Debug().Str("service", r.config.Service).Dur("timeout", r.config.Timeout).Msg("browsing")

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if entry == nil || !r.matches(entry) {
				continue
			}
			ep, err := EndpointFromEntry(entry)
			if err != nil {
				r.logger.Debug().Err(err).Str("instance", entry.Instance).Msg("skipping entry")
				continue
			}
			r.logger.Info().Str("instance", entry.Instance).Stringer("endpoint", ep).Msg("resolved")
			return ep, nil

		case _, ok := <-removed:
			// Only the first announcement matters.
			if !ok {
				removed = nil
			}

		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return transport.Endpoint{}, fmt.Errorf("discovery: browse %s: %w", r.config.Service, err)
			}
			return transport.Endpoint{}, r.notFound(ctx)

		case <-ctx.Done():
			return transport.Endpoint{}, r.notFound(ctx)
		}
	}
}

func (r *Resolver) notFound(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %s in %s: %w", ErrNotFound, r.config.Service, r.config.Domain, cause)
	}
	return fmt.Errorf("%w: %s in %s", ErrNotFound, r.config.Service, r.config.Domain)
}

func (r *Resolver) matches(entry *zeroconf.ServiceEntry) bool {
	if r.config.Instance == "" {
		return true
	}
	return strings.EqualFold(entry.Instance, r.config.Instance)
}

func (r *Resolver) zeroconfBrowse(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error {
	return zeroconf.Browse(ctx, service, r.config.Domain, entries, removed, r.browserOptions()...)
}

// browserOptions returns zeroconf client options based on config.
func (r *Resolver) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if r.config.Interface != "" {
		iface, err := net.InterfaceByName(r.config.Interface)
		if err != nil {
			r.logger.Warn().Err(err).Str("interface", r.config.Interface).Msg("interface not found, browsing all")
			return opts
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}

	return opts
}

// EndpointFromEntry converts an announcement into an endpoint.
func EndpointFromEntry(entry *zeroconf.ServiceEntry) (transport.Endpoint, error) {
	if entry == nil || entry.Port <= 0 {
		return transport.Endpoint{}, ErrNoAddress
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	if host == "" {
		return transport.Endpoint{}, ErrNoAddress
	}

	return transport.NewEndpoint(host, entry.Port)
}
