// File: server/helpers_test.go
// Author: momentics <momentics@gmail.com>

package server

import (
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/hioload-reactor/internal/logger"
	"github.com/momentics/hioload-reactor/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	lt := reactor.NewLoopThread(t.Name(), nil, -1, reactor.WithLogger(logger.Discard()))
	loop, err := lt.StartLoop()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, lt.Stop()) })
	return loop
}

// runSync executes fn on the loop thread and waits for it.
func runSync(t *testing.T, loop *reactor.EventLoop, fn func()) {
	t.Helper()
	done := make(chan any, 1)
	loop.QueueInLoop(func() {
		defer func() { done <- recover() }()
		fn()
	})
	select {
	case p := <-done:
		if p != nil {
			t.Fatalf("panic on loop thread: %v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run functor")
	}
}

// socketPair returns the conn side (non-blocking) and a blocking peer with a
// receive timeout.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	tv := unix.Timeval{Sec: 5}
	require.NoError(t, unix.SetsockoptTimeval(fds[1], unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv))
	return fds[0], fds[1]
}

// newTestConn wraps one end of a socket pair in a Conn owned by loop. The
// conn is destroyed and the peer closed at cleanup.
func newTestConn(t *testing.T, loop *reactor.EventLoop, hwm int) (*Conn, int) {
	t.Helper()
	fd, peer := socketPair(t)
	c := newConn(loop, t.Name(), fd, netip.AddrPort{}, netip.AddrPort{}, connOptions{
		highWaterMark: hwm,
		logger:        logger.Discard(),
	})
	t.Cleanup(func() {
		runSync(t, loop, func() {
			if c.sockfd() < 0 {
				return
			}
			if c.State() == StateConnecting {
				_ = unix.Close(fd)
				return
			}
			c.handleClose()
			c.connectDestroyed()
		})
		_ = unix.Close(peer)
	})
	return c, peer
}

// readAll reads from a blocking fd until EOF or timeout.
func readAll(fd int) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}
