package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echolink/echolink-go/internal/testutil/testlog"
)

func newEntry(instance, host string, port int, addrs ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{HostName: host, Port: port}
	e.Instance = instance
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

// fakeBrowse announces entries in order, then blocks until ctx ends.
func fakeBrowse(announce ...*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, _ string, entries, _ chan *zeroconf.ServiceEntry) error {
		for _, e := range announce {
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		}
		<-ctx.Done()
		return nil
	}
}

func testResolver(t *testing.T, cfg Config, browse browseFunc) *Resolver {
	t.Helper()
	cfg.Logger = testlog.Start(t)
	r := NewResolver(cfg)
	r.browse = browse
	return r
}

func TestEndpointFromEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *zeroconf.ServiceEntry
		want    string
		wantErr bool
	}{
		{"ipv4 preferred", newEntry("a", "srv.local.", 15000, "fe80::1", "192.168.1.20"), "192.168.1.20:15000", false},
		{"ipv6 only", newEntry("a", "srv.local.", 15000, "fe80::1"), "[fe80::1]:15000", false},
		{"hostname fallback", newEntry("a", "srv.local.", 7000), "srv.local:7000", false},
		{"no port", newEntry("a", "srv.local.", 0, "10.0.0.1"), "", true},
		{"nothing", newEntry("a", "", 7000), "", true},
		{"nil", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := EndpointFromEntry(tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep.Address())
		})
	}
}

func TestResolveFirstEntry(t *testing.T) {
	r := testResolver(t, Config{Timeout: time.Second}, fakeBrowse(
		newEntry("broken", "", 0),
		newEntry("server-1", "one.local.", 15000, "10.0.0.1"),
		newEntry("server-2", "two.local.", 15000, "10.0.0.2"),
	))

	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ep.Host())
	assert.Equal(t, 15000, ep.Port())
}

func TestResolveInstanceFilter(t *testing.T) {
	r := testResolver(t, Config{Instance: "Server-2", Timeout: time.Second}, fakeBrowse(
		newEntry("server-1", "one.local.", 15000, "10.0.0.1"),
		newEntry("server-2", "two.local.", 15001, "10.0.0.2"),
	))

	ep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:15001", ep.Address())
}

func TestResolveTimeout(t *testing.T) {
	r := testResolver(t, Config{Timeout: 30 * time.Millisecond}, fakeBrowse())

	start := time.Now()
	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveCallerCancel(t *testing.T) {
	r := testResolver(t, Config{Timeout: time.Minute}, fakeBrowse())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveBrowseError(t *testing.T) {
	boom := errors.New("no multicast interfaces")
	r := testResolver(t, Config{Timeout: time.Second}, func(context.Context, string, chan *zeroconf.ServiceEntry, chan *zeroconf.ServiceEntry) error {
		return boom
	})

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolveBrowserClosesChannels(t *testing.T) {
	r := testResolver(t, Config{Timeout: time.Second}, func(_ context.Context, _ string, entries, removed chan *zeroconf.ServiceEntry) error {
		close(entries)
		close(removed)
		return nil
	})

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(Config{})
	assert.Equal(t, DefaultService, r.config.Service)
	assert.Equal(t, Domain, r.config.Domain)
	assert.Equal(t, DefaultTimeout, r.config.Timeout)
	assert.Empty(t, r.browserOptions())
}
