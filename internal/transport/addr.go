// File: internal/transport/addr.go
// Author: momentics <momentics@gmail.com>
//
// Conversions between netip.AddrPort and unix.Sockaddr.

package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ErrUnsupportedAddr is returned for socket addresses that are not IPv4 or
// IPv6.
var ErrUnsupportedAddr = errors.New("transport: unsupported socket address")

// ResolveAddr parses "host:port". Literal IPs are parsed directly; an empty
// host means the IPv4 wildcard; names go through the system resolver.
func ResolveAddr(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: resolve %q: %w", s, err)
	}
	if host == "" {
		s = net.JoinHostPort("0.0.0.0", port)
	}
	ta, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: resolve %q: %w", s, err)
	}
	ap := ta.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// Family returns AF_INET or AF_INET6 for ap.
func Family(ap netip.AddrPort) int {
	if ap.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// ToSockaddr converts ap for bind/connect.
func ToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa
}

// FromSockaddr converts an address returned by the kernel.
func FromSockaddr(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port)), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: %T", ErrUnsupportedAddr, sa)
	}
}
