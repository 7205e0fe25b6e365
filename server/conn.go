// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is one accepted TCP connection driven by a worker EventLoop.

package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"
	"weak"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/runtimex"
	"github.com/momentics/hioload-reactor/control"
	"github.com/momentics/hioload-reactor/core/buffer"
	"github.com/momentics/hioload-reactor/internal/transport"
	"github.com/momentics/hioload-reactor/reactor"
)

// ErrConnClosed is returned by socket option calls once the connection is
// Disconnected.
var ErrConnClosed = errors.New("server: connection closed")

// Conn owns its socket and is shared between the Server table and closures
// queued on its loop. Methods that are not documented as thread-safe must
// be called from the owning loop's thread, which is where every callback
// runs.
type Conn struct {
	loop      *reactor.EventLoop
	name      string
	state     atomic.Int32
	reading   bool
	fd        atomic.Int32 // -1 once the socket is closed
	channel   *reactor.Channel
	localAddr netip.AddrPort
	peerAddr  netip.AddrPort

	highWaterMark int
	inputBuffer   *buffer.Buffer
	outputBuffer  *buffer.Buffer
	context       any

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	logger  *slog.Logger
	metrics *control.Metrics
}

type connOptions struct {
	highWaterMark int
	tcpNoDelay    bool
	keepAlive     bool
	logger        *slog.Logger
	metrics       *control.Metrics
}

func newConn(loop *reactor.EventLoop, name string, fd int, local, peer netip.AddrPort, o connOptions) *Conn {
	c := &Conn{
		loop:               loop,
		name:               name,
		reading:            true,
		channel:            reactor.NewChannel(loop, fd),
		localAddr:          local,
		peerAddr:           peer,
		highWaterMark:      o.highWaterMark,
		inputBuffer:        buffer.New(),
		outputBuffer:       buffer.New(),
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		logger:             o.logger.With(slog.String("conn", name)),
		metrics:            o.metrics,
	}
	c.fd.Store(int32(fd))
	c.state.Store(int32(StateConnecting))
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)

	if err := transport.SetKeepAlive(fd, o.keepAlive); err != nil {
		c.logger.Warn("keepalive", slog.Any("err", err))
	}
	if o.tcpNoDelay {
		if err := transport.SetTCPNoDelay(fd, true); err != nil {
			c.logger.Warn("tcp nodelay", slog.Any("err", err))
		}
	}
	c.logger.Debug("conn created", slog.Int("fd", fd))
	return c
}

func (c *Conn) Name() string                { return c.name }
func (c *Conn) Loop() *reactor.EventLoop    { return c.loop }
func (c *Conn) LocalAddr() netip.AddrPort   { return c.localAddr }
func (c *Conn) PeerAddr() netip.AddrPort    { return c.peerAddr }
func (c *Conn) InputBuffer() *buffer.Buffer { return c.inputBuffer }

// OutputBuffer exposes pending output. Loop thread only.
func (c *Conn) OutputBuffer() *buffer.Buffer { return c.outputBuffer }

// State is safe from any goroutine.
func (c *Conn) State() State       { return State(c.state.Load()) }
func (c *Conn) Connected() bool    { return c.State() == StateConnected }
func (c *Conn) Disconnected() bool { return c.State() == StateDisconnected }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

func (c *Conn) sockfd() int { return int(c.fd.Load()) }

// SetContext attaches application state. Loop thread only.
func (c *Conn) SetContext(v any) { c.context = v }
func (c *Conn) Context() any     { return c.context }

func (c *Conn) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Conn) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *Conn) SetCloseCallback(cb CloseCallback)                 { c.closeCallback = cb }

// SetHighWaterMarkCallback installs cb for crossings of mark bytes.
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

// openFd returns the socket while the connection has not yet been torn down.
func (c *Conn) openFd() (int, error) {
	fd := int(c.fd.Load())
	if fd < 0 || c.Disconnected() {
		return -1, ErrConnClosed
	}
	return fd, nil
}

// SetTCPNoDelay toggles Nagle's algorithm.
func (c *Conn) SetTCPNoDelay(on bool) error {
	fd, err := c.openFd()
	if err != nil {
		return err
	}
	return transport.SetTCPNoDelay(fd, on)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (c *Conn) SetKeepAlive(on bool) error {
	fd, err := c.openFd()
	if err != nil {
		return err
	}
	return transport.SetKeepAlive(fd, on)
}

// TCPInfoString renders the kernel TCP_INFO of the socket.
func (c *Conn) TCPInfoString() (string, error) {
	fd, err := c.openFd()
	if err != nil {
		return "", err
	}
	return transport.TCPInfoString(fd)
}

// Send writes p, buffering what the socket does not take. It is safe from
// any goroutine; off-loop calls copy p first. Data sent while the
// connection is not Connected is dropped.
func (c *Conn) Send(p []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(p)
		return
	}
	data := bytes.Clone(p)
	c.loop.RunInLoop(func() { c.sendInLoop(data) })
}

// SendString is Send for strings.
func (c *Conn) SendString(s string) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.RunInLoop(func() { c.sendInLoop([]byte(s)) })
}

// SendBuffer sends and drains buf.
func (c *Conn) SendBuffer(buf *buffer.Buffer) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	data := buf.Next(buf.ReadableBytes())
	c.loop.RunInLoop(func() { c.sendInLoop(data) })
}

func (c *Conn) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected {
		c.logger.Warn("disconnected, give up writing", slog.Int("len", len(data)))
		return
	}

	nwrote, remaining := 0, len(data)
	faultError := false
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := transport.Write(c.sockfd(), data)
		switch {
		case err == nil:
			nwrote = n
			remaining -= n
			c.metrics.BytesWritten(n)
			if remaining == 0 && c.writeCompleteCallback != nil {
				cb := c.writeCompleteCallback
				c.loop.QueueInLoop(func() { cb(c) })
			}
		case transport.IsTemporary(err):
		default:
			c.logIOError("write", err)
			if transport.IsPeerGone(err) {
				faultError = true
			}
		}
	}

	runtimex.Assert(remaining <= len(data))
	if faultError || remaining == 0 {
		return
	}
	oldLen := c.outputBuffer.ReadableBytes()
	if total := oldLen + remaining; total >= c.highWaterMark && oldLen < c.highWaterMark {
		c.metrics.HighWaterMark()
		if cb := c.highWaterMarkCallback; cb != nil {
			c.loop.QueueInLoop(func() { cb(c, total) })
		}
	}
	c.outputBuffer.Append(data[nwrote:])
	if !c.channel.IsWriting() {
		if err := c.channel.EnableWriting(); err != nil {
			c.logger.Error("enable writing", slog.Any("err", err))
		}
	}
}

// Shutdown half-closes the write side once pending output is flushed. Safe
// from any goroutine.
func (c *Conn) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Conn) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		if err := transport.ShutdownWrite(c.sockfd()); err != nil {
			c.logIOError("shutdown", err)
		}
	}
}

// ForceClose closes the connection without waiting for pending output.
// Safe from any goroutine.
func (c *Conn) ForceClose() {
	if c.markDisconnecting() {
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay force-closes after d. The timer only holds a weak
// reference, so a connection torn down meanwhile is left alone.
func (c *Conn) ForceCloseWithDelay(d time.Duration) {
	if c.markDisconnecting() {
		wp := weak.Make(c)
		c.loop.RunAfter(d, func() {
			if conn := wp.Value(); conn != nil {
				conn.ForceClose()
			}
		})
	}
}

// markDisconnecting moves Connected or Disconnecting to Disconnecting and
// fails for any other state, so a torn down connection is never revived.
func (c *Conn) markDisconnecting() bool {
	for {
		st := c.State()
		if st != StateConnected && st != StateDisconnecting {
			return false
		}
		if c.state.CompareAndSwap(int32(st), int32(StateDisconnecting)) {
			return true
		}
	}
}

func (c *Conn) forceCloseInLoop() {
	c.loop.AssertInLoopThread()
	if st := c.State(); st == StateConnected || st == StateDisconnecting {
		c.handleClose()
	}
}

// StartRead resumes read interest. Safe from any goroutine.
func (c *Conn) StartRead() {
	c.loop.RunInLoop(func() {
		if c.Disconnected() {
			return
		}
		if !c.reading || !c.channel.IsReading() {
			if err := c.channel.EnableReading(); err != nil {
				c.logger.Error("enable reading", slog.Any("err", err))
				return
			}
			c.reading = true
		}
	})
}

// StopRead pauses read interest, leaving input in the kernel buffer. Safe
// from any goroutine.
func (c *Conn) StopRead() {
	c.loop.RunInLoop(func() {
		if c.Disconnected() {
			return
		}
		if c.reading || c.channel.IsReading() {
			if err := c.channel.DisableReading(); err != nil {
				c.logger.Error("disable reading", slog.Any("err", err))
				return
			}
			c.reading = false
		}
	})
}

// IsReading reports the read interest. Loop thread only.
func (c *Conn) IsReading() bool { return c.reading }

// connectEstablished runs once on the owning loop after the Server has
// registered the connection.
func (c *Conn) connectEstablished() {
	c.loop.AssertInLoopThread()
	runtimex.Assert(c.State() == StateConnecting)
	c.setState(StateConnected)
	reactor.Tie(c.channel, c)
	if err := c.channel.EnableReading(); err != nil {
		c.logger.Error("register connection", slog.Any("err", err))
		c.handleClose()
		return
	}
	c.connectionCallback(c)
}

// connectDestroyed is the last call a Conn receives; it unregisters the
// channel and closes the socket.
func (c *Conn) connectDestroyed() {
	c.loop.AssertInLoopThread()
	registered := c.loop.HasChannel(c.channel)
	if st := c.State(); st == StateConnected || st == StateDisconnecting {
		c.setState(StateDisconnected)
		if registered {
			if err := c.channel.DisableAll(); err != nil {
				c.logger.Error("disable channel", slog.Any("err", err))
			}
		}
		c.connectionCallback(c)
	}
	runtimex.Assert(c.State() == StateDisconnected)
	if registered {
		if !c.channel.IsNoneEvent() {
			_ = c.channel.DisableAll()
		}
		if err := c.channel.Remove(); err != nil {
			c.logger.Error("remove channel", slog.Any("err", err))
		}
	}
	c.channel.Destroy()
	fd := int(c.fd.Swap(-1))
	if err := transport.Close(fd); err != nil {
		c.logIOError("close", err)
	}
	c.metrics.ConnectionClosed()
	c.logger.Debug("conn destroyed", slog.Int("fd", fd))
}

func (c *Conn) handleRead(receiveTime time.Time) {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.sockfd())
	switch {
	case err == nil && n > 0:
		c.metrics.BytesRead(n)
		c.messageCallback(c, c.inputBuffer, receiveTime)
	case err == nil:
		c.handleClose()
	case transport.IsTemporary(err):
	default:
		c.logIOError("read", err)
		c.handleError()
	}
}

func (c *Conn) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		c.logger.Debug("connection is down, no more writing")
		return
	}
	n, err := transport.Write(c.sockfd(), c.outputBuffer.Peek())
	if err != nil {
		if !transport.IsTemporary(err) {
			c.logIOError("write", err)
		}
		return
	}
	c.metrics.BytesWritten(n)
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() > 0 {
		return
	}
	if err := c.channel.DisableWriting(); err != nil {
		c.logger.Error("disable writing", slog.Any("err", err))
	}
	if cb := c.writeCompleteCallback; cb != nil {
		c.loop.QueueInLoop(func() { cb(c) })
	}
	if c.State() == StateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose runs the close sequence at most once: mark Disconnected, drop
// interest, report down, then let the owner evict the connection.
func (c *Conn) handleClose() {
	c.loop.AssertInLoopThread()
	st := c.State()
	if st == StateDisconnected {
		return
	}
	runtimex.Assert(st == StateConnected || st == StateDisconnecting)
	c.logger.Debug("conn closing", slog.String("state", st.String()))
	c.setState(StateDisconnected)
	if err := c.channel.DisableAll(); err != nil {
		c.logger.Error("disable channel", slog.Any("err", err))
	}
	c.connectionCallback(c)
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *Conn) handleError() {
	err := transport.SocketError(c.sockfd())
	if err == nil {
		return
	}
	c.logIOError("socket", err)
}

func (c *Conn) logIOError(op string, err error) {
	class := errclass.New(err)
	c.metrics.IOError(op, class)
	c.logger.Error("io error", slog.String("op", op), slog.String("errClass", class), slog.Any("err", err))
}
