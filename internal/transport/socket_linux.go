//go:build linux
// +build linux

// File: internal/transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP socket operations on raw descriptors.

package transport

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// CreateNonblocking opens a non-blocking, close-on-exec TCP socket.
func CreateNonblocking(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("transport: socket: %w", err)
	}
	return fd, nil
}

func Bind(fd int, addr netip.AddrPort) error {
	if err := unix.Bind(fd, ToSockaddr(addr)); err != nil {
		return fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return nil
}

func Listen(fd int) error {
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	return nil
}

// Accept takes one pending connection as a non-blocking, close-on-exec
// descriptor. Errors are the raw errno so callers can tell EAGAIN and EMFILE
// apart.
func Accept(fd int) (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	peer, err := FromSockaddr(sa)
	if err != nil {
		_ = unix.Close(nfd)
		return -1, netip.AddrPort{}, err
	}
	return nfd, peer, nil
}

// Connect starts a connection; EINPROGRESS is returned as is.
func Connect(fd int, addr netip.AddrPort) error {
	return unix.Connect(fd, ToSockaddr(addr))
}

func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write sends p with MSG_NOSIGNAL so a vanished peer yields EPIPE instead of
// a signal.
func Write(fd int, p []byte) (int, error) {
	n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if n < 0 {
		n = 0
	}
	return n, err
}

func Close(fd int) error {
	return unix.Close(fd)
}

// ShutdownWrite half-closes the socket.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// SocketError returns the pending SO_ERROR, or nil.
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

func LocalAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: getsockname: %w", err)
	}
	return FromSockaddr(sa)
}

func PeerAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: getpeername: %w", err)
	}
	return FromSockaddr(sa)
}

// IsSelfConnect reports a TCP simultaneous-open onto the same port.
func IsSelfConnect(fd int) bool {
	local, err := LocalAddr(fd)
	if err != nil {
		return false
	}
	peer, err := PeerAddr(fd)
	if err != nil {
		return false
	}
	return local == peer
}

func setBool(fd, level, opt int, on bool, name string) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, level, opt, v); err != nil {
		return fmt.Errorf("transport: set %s: %w", name, err)
	}
	return nil
}

func SetReuseAddr(fd int, on bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "SO_REUSEADDR")
}

func SetReusePort(fd int, on bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, on, "SO_REUSEPORT")
}

func SetTCPNoDelay(fd int, on bool) error {
	return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "TCP_NODELAY")
}

func SetKeepAlive(fd int, on bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on, "SO_KEEPALIVE")
}

// TCPInfo returns the kernel's TCP_INFO for fd.
func TCPInfo(fd int) (*unix.TCPInfo, error) {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, fmt.Errorf("transport: TCP_INFO: %w", err)
	}
	return info, nil
}

// TCPInfoString renders the commonly inspected TCP_INFO fields.
func TCPInfoString(fd int) (string, error) {
	ti, err := TCPInfo(fd)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("unrecovered=%d rto=%d ato=%d snd_mss=%d rcv_mss=%d "+
		"lost=%d retrans=%d rtt=%d rttvar=%d sshthresh=%d cwnd=%d total_retrans=%d",
		ti.Retransmits, ti.Rto, ti.Ato, ti.Snd_mss, ti.Rcv_mss,
		ti.Lost, ti.Retrans, ti.Rtt, ti.Rttvar,
		ti.Snd_ssthresh, ti.Snd_cwnd, ti.Total_retrans), nil
}

// IsTemporary reports errors after which the operation should simply be
// retried on the next readiness event.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// IsPeerGone reports errors meaning the peer has reset or closed the
// connection.
func IsPeerGone(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
