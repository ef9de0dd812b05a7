package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidEndpoint is returned for an empty host or a port outside 1..65535.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a remote TCP address. It is immutable once constructed.
type Endpoint struct {
	host string
	port int
}

// NewEndpoint validates host and port and returns an Endpoint.
func NewEndpoint(host string, port int) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	return Endpoint{host: host, port: port}, nil
}

// ParseEndpoint parses "host:port". IPv6 hosts must be bracketed.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q", ErrInvalidEndpoint, portStr)
	}
	return NewEndpoint(host, port)
}

// Host returns the host name or address.
func (e Endpoint) Host() string { return e.host }

// Port returns the TCP port.
func (e Endpoint) Port() int { return e.port }

// IsZero reports whether e was never constructed.
func (e Endpoint) IsZero() bool { return e.host == "" && e.port == 0 }

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (e Endpoint) String() string { return e.Address() }
