// File: server/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor owns the listening socket and hands accepted descriptors to the
// Server on the accept loop.

package server

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/momentics/hioload-reactor/control"
	"github.com/momentics/hioload-reactor/internal/transport"
	"github.com/momentics/hioload-reactor/reactor"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback takes ownership of fd.
type NewConnectionCallback func(fd int, peer netip.AddrPort)

// Acceptor is used only from its loop's thread, except for construction.
type Acceptor struct {
	loop      *reactor.EventLoop
	fd        int
	idleFd    int
	channel   *reactor.Channel
	listening bool
	closed    bool

	newConnectionCallback NewConnectionCallback

	logger  *slog.Logger
	metrics *control.Metrics
}

// NewAcceptor creates and binds a non-blocking listening socket. It does not
// listen until Listen is called.
func NewAcceptor(loop *reactor.EventLoop, addr netip.AddrPort, reusePort bool, logger *slog.Logger, metrics *control.Metrics) (*Acceptor, error) {
	fd, err := transport.CreateNonblocking(transport.Family(addr))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Acceptor, error) {
		_ = transport.Close(fd)
		return nil, err
	}
	if err := transport.SetReuseAddr(fd, true); err != nil {
		return fail(err)
	}
	if reusePort {
		if err := transport.SetReusePort(fd, true); err != nil {
			return fail(err)
		}
	}
	if err := transport.Bind(fd, addr); err != nil {
		return fail(err)
	}
	idleFd, err := openIdleFd()
	if err != nil {
		return fail(err)
	}
	a := &Acceptor{
		loop:    loop,
		fd:      fd,
		idleFd:  idleFd,
		channel: reactor.NewChannel(loop, fd),
		logger:  logger,
		metrics: metrics,
	}
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// openIdleFd reserves a descriptor that handleRead can give up to drain a
// pending connection when the process runs out of descriptors.
func openIdleFd() (int, error) {
	return unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Addr returns the bound address, with the kernel-chosen port if 0 was
// requested.
func (a *Acceptor) Addr() (netip.AddrPort, error) { return transport.LocalAddr(a.fd) }

func (a *Acceptor) Listening() bool { return a.listening }

// Listen starts accepting. Loop thread only.
func (a *Acceptor) Listen() error {
	a.loop.AssertInLoopThread()
	if err := transport.Listen(a.fd); err != nil {
		return err
	}
	if err := a.channel.EnableReading(); err != nil {
		return err
	}
	a.listening = true
	return nil
}

func (a *Acceptor) handleRead(time.Time) {
	a.loop.AssertInLoopThread()
	connfd, peer, err := transport.Accept(a.fd)
	if err == nil {
		if a.newConnectionCallback != nil {
			a.newConnectionCallback(connfd, peer)
		} else {
			_ = transport.Close(connfd)
		}
		return
	}
	if transport.IsTemporary(err) {
		return
	}
	class := errclass.New(err)
	a.metrics.IOError("accept", class)
	a.logger.Error("accept", slog.String("errClass", class), slog.Any("err", err))
	if errors.Is(err, unix.EMFILE) {
		a.shedPending()
	}
}

// shedPending accepts and immediately closes one connection using the
// reserved descriptor, so a level-triggered listener does not spin.
func (a *Acceptor) shedPending() {
	_ = unix.Close(a.idleFd)
	if nfd, _, err := unix.Accept(a.fd); err == nil {
		_ = unix.Close(nfd)
	}
	fd, err := openIdleFd()
	if err != nil {
		a.idleFd = -1
		a.logger.Error("reopen idle fd", slog.Any("err", err))
		return
	}
	a.idleFd = fd
}

// Close stops listening and releases the descriptors. Loop thread only.
func (a *Acceptor) Close() error {
	a.loop.AssertInLoopThread()
	if a.closed {
		return nil
	}
	a.closed = true
	var err error
	if a.loop.HasChannel(a.channel) {
		err = multierr.Append(err, a.channel.DisableAll())
		err = multierr.Append(err, a.channel.Remove())
	}
	a.listening = false
	err = multierr.Append(err, transport.Close(a.fd))
	if a.idleFd >= 0 {
		err = multierr.Append(err, unix.Close(a.idleFd))
	}
	return err
}
