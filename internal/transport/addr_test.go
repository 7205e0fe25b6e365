// File: internal/transport/addr_test.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveAddr(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8080": "127.0.0.1:8080",
		"[::1]:9":        "[::1]:9",
		":7000":          "0.0.0.0:7000",
	}
	for in, want := range cases {
		got, err := ResolveAddr(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
	_, err := ResolveAddr("no-port")
	assert.Error(t, err)
}

func TestSockaddrRoundTrip(t *testing.T) {
	for _, s := range []string{"10.1.2.3:443", "[2001:db8::1]:80"} {
		ap := netip.MustParseAddrPort(s)
		got, err := FromSockaddr(ToSockaddr(ap))
		require.NoError(t, err)
		assert.Equal(t, ap, got)
	}
	assert.Equal(t, unix.AF_INET, Family(netip.MustParseAddrPort("1.2.3.4:1")))
	assert.Equal(t, unix.AF_INET6, Family(netip.MustParseAddrPort("[::1]:1")))
}

func TestFromSockaddrUnsupported(t *testing.T) {
	_, err := FromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"})
	assert.ErrorIs(t, err, ErrUnsupportedAddr)
}
