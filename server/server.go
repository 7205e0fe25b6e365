// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server accepts TCP connections on a base loop and shards them across a
// pool of worker loops.

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/momentics/hioload-reactor/control"
	"github.com/momentics/hioload-reactor/internal/logger"
	"github.com/momentics/hioload-reactor/internal/transport"
	"github.com/momentics/hioload-reactor/reactor"
	"go.uber.org/multierr"
)

// ErrServerClosed is returned by Start after Close.
var ErrServerClosed = errors.New("server: closed")

// Server owns the acceptor, the worker pool and the connection table. The
// table is touched only on the accepting loop's thread.
type Server struct {
	loop     *reactor.EventLoop
	name     string
	ipPort   string
	addr     netip.AddrPort
	acceptor *Acceptor
	pool     *reactor.ThreadPool
	opts     options
	logger   *slog.Logger

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	threadInitCallback    reactor.ThreadInitCallback

	started   atomic.Bool
	closed    atomic.Bool
	hwm       atomic.Int64
	connCount atomic.Int64

	nextConnID  uint64
	connections map[string]*Conn
}

// NewServer binds listenAddr on loop. The socket does not accept until
// Start. An empty name is replaced by a generated UUID.
func NewServer(loop *reactor.EventLoop, listenAddr, name string, opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		name = generateName()
	}
	if o.logger == nil {
		o.logger = logger.Logger("server")
	}
	log := o.logger.With(slog.String("server", name))

	ap, err := transport.ResolveAddr(listenAddr)
	if err != nil {
		return nil, err
	}
	acceptor, err := NewAcceptor(loop, ap, o.reusePort, log, o.metrics)
	if err != nil {
		return nil, err
	}
	bound, err := acceptor.Addr()
	if err != nil {
		loop.RunInLoop(func() { _ = acceptor.Close() })
		return nil, err
	}

	s := &Server{
		loop:               loop,
		name:               name,
		ipPort:             bound.String(),
		addr:               bound,
		acceptor:           acceptor,
		pool:               reactor.NewThreadPool(loop, name),
		opts:               o,
		logger:             log,
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		connections:        make(map[string]*Conn),
	}
	s.hwm.Store(int64(o.highWaterMark))
	s.pool.SetThreadNum(o.threads)
	s.pool.SetCPUAffinity(o.cpus)
	s.pool.SetLoopOptions(reactor.WithPollTimeout(o.pollTimeout))
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

// NewServerFromConfig validates cfg and builds a server from it. opts are
// applied after the config.
func NewServerFromConfig(loop *reactor.EventLoop, cfg control.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	all := append([]Option{FromConfig(cfg)}, opts...)
	return NewServer(loop, cfg.ListenAddr, cfg.Name, all...)
}

func generateName() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func (s *Server) Name() string                    { return s.name }
func (s *Server) IPPort() string                  { return s.ipPort }
func (s *Server) Addr() netip.AddrPort            { return s.addr }
func (s *Server) Loop() *reactor.EventLoop        { return s.loop }
func (s *Server) ThreadPool() *reactor.ThreadPool { return s.pool }

// SetThreadNum sets the number of worker loops. 0 serves all connections
// on the accepting loop. Must be called before Start.
func (s *Server) SetThreadNum(n int) {
	if s.started.Load() {
		panic("server: SetThreadNum after Start")
	}
	s.pool.SetThreadNum(n)
}

// SetThreadInitCallback runs cb on every worker loop before it serves.
func (s *Server) SetThreadInitCallback(cb reactor.ThreadInitCallback) { s.threadInitCallback = cb }

// Callback setters apply to connections accepted afterwards; set them
// before Start.
func (s *Server) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *Server) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }
func (s *Server) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { s.highWaterMarkCallback = cb }

// HighWaterMark returns the current output threshold in bytes.
func (s *Server) HighWaterMark() int { return int(s.hwm.Load()) }

// SetHighWaterMark changes the output threshold for new and live
// connections. Safe from any goroutine.
func (s *Server) SetHighWaterMark(n int) {
	if n <= 0 {
		return
	}
	s.hwm.Store(int64(n))
	s.loop.RunInLoop(func() {
		for _, c := range s.connections {
			c.loop.RunInLoop(func() { c.highWaterMark = n })
		}
	})
}

// ConnectionCount returns the table size. Accepting loop only.
func (s *Server) ConnectionCount() int {
	s.loop.AssertInLoopThread()
	return len(s.connections)
}

// Start launches the worker pool and begins accepting. Calls after the
// first successful one return nil; a failed Start may be retried. When called off the accepting loop's thread, that loop
// must be running; Start waits for it.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.loop.IsInLoopThread() {
		err = s.startInLoop()
	} else {
		errc := make(chan error, 1)
		s.loop.RunInLoop(func() { errc <- s.startInLoop() })
		err = <-errc
	}
	if err != nil {
		s.started.Store(false)
	}
	return err
}

func (s *Server) startInLoop() error {
	s.loop.AssertInLoopThread()
	if err := s.pool.Start(s.threadInitCallback); err != nil {
		return fmt.Errorf("server %s: start pool: %w", s.name, err)
	}
	for _, l := range s.pool.AllLoops() {
		if err := s.opts.metrics.RegisterLoop(l); err != nil {
			s.logger.Warn("register loop metrics", slog.String("loop", l.Name()), slog.Any("err", err))
		}
	}
	if err := s.acceptor.Listen(); err != nil {
		return multierr.Append(fmt.Errorf("server %s: listen: %w", s.name, err), s.pool.Stop())
	}
	s.registerProbes()
	s.logger.Info("server listening",
		slog.String("addr", s.ipPort), slog.Int("workers", len(s.pool.AllLoops())))
	return nil
}

func (s *Server) registerProbes() {
	dp := s.opts.probes
	if dp == nil {
		return
	}
	dp.RegisterProbe(s.probeName("connections"), func() any { return s.connCount.Load() })
	dp.RegisterProbe(s.probeName("addr"), func() any { return s.ipPort })
	dp.RegisterProbe(s.probeName("high_water_mark"), func() any { return s.hwm.Load() })
}

func (s *Server) unregisterProbes() {
	dp := s.opts.probes
	if dp == nil {
		return
	}
	for _, p := range []string{"connections", "addr", "high_water_mark"} {
		dp.UnregisterProbe(s.probeName(p))
	}
}

func (s *Server) probeName(p string) string { return "server." + s.name + "." + p }

// newConnection runs on the accepting loop for every accepted socket.
func (s *Server) newConnection(fd int, peer netip.AddrPort) {
	s.loop.AssertInLoopThread()
	ioLoop := s.pool.NextLoop()
	s.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	s.logger.Info("new connection", slog.String("conn", connName), slog.String("peer", peer.String()))

	local, err := transport.LocalAddr(fd)
	if err != nil {
		s.logger.Warn("local address", slog.String("conn", connName), slog.Any("err", err))
	}
	c := newConn(ioLoop, connName, fd, local, peer, connOptions{
		highWaterMark: int(s.hwm.Load()),
		tcpNoDelay:    s.opts.tcpNoDelay,
		keepAlive:     s.opts.keepAlive,
		logger:        s.logger,
		metrics:       s.opts.metrics,
	})
	s.connections[connName] = c
	s.connCount.Add(1)
	s.opts.metrics.ConnectionAccepted()

	if s.connectionCallback != nil {
		c.SetConnectionCallback(s.connectionCallback)
	}
	if s.messageCallback != nil {
		c.SetMessageCallback(s.messageCallback)
	}
	c.SetWriteCompleteCallback(s.writeCompleteCallback)
	if s.highWaterMarkCallback != nil {
		c.SetHighWaterMarkCallback(s.highWaterMarkCallback, int(s.hwm.Load()))
	}
	c.SetCloseCallback(s.removeConnection)
	ioLoop.RunInLoop(c.connectEstablished)
}

// removeConnection is the close callback of every Conn; it runs on the
// conn's loop.
func (s *Server) removeConnection(c *Conn) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(c) })
}

func (s *Server) removeConnectionInLoop(c *Conn) {
	s.loop.AssertInLoopThread()
	if s.closed.Load() {
		// Close already handed every remaining conn to its loop.
		return
	}
	if _, ok := s.connections[c.Name()]; !ok {
		s.logger.Error("remove unknown connection", slog.String("conn", c.Name()))
		panic(fmt.Sprintf("server %s: connection %s not in table", s.name, c.Name()))
	}
	s.logger.Info("remove connection", slog.String("conn", c.Name()))
	delete(s.connections, c.Name())
	s.connCount.Add(-1)
	s.opts.metrics.ConnectionRemoved()
	c.Loop().QueueInLoop(c.connectDestroyed)
}

// Close stops accepting, destroys every live connection on its own loop
// and stops the worker pool. When called off the accepting loop's thread,
// that loop must still be running. Close is idempotent.
func (s *Server) Close() error {
	if s.loop.IsInLoopThread() {
		return s.closeInLoop()
	}
	errc := make(chan error, 1)
	s.loop.RunInLoop(func() { errc <- s.closeInLoop() })
	return <-errc
}

func (s *Server) closeInLoop() error {
	s.loop.AssertInLoopThread()
	if s.closed.Swap(true) {
		return nil
	}
	err := s.acceptor.Close()
	for name, c := range s.connections {
		delete(s.connections, name)
		s.opts.metrics.ConnectionRemoved()
		c.Loop().RunInLoop(c.connectDestroyed)
	}
	s.connCount.Store(0)
	if s.pool.Started() {
		err = multierr.Append(err, s.pool.Stop())
	}
	s.unregisterProbes()
	s.logger.Info("server closed")
	return err
}
