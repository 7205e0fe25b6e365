// File: server/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for Server.

package server

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-reactor/control"
	"github.com/momentics/hioload-reactor/reactor"
)

// Option configures a Server at construction.
type Option func(*options)

type options struct {
	reusePort     bool
	tcpNoDelay    bool
	keepAlive     bool
	highWaterMark int
	threads       int
	cpus          []int
	pollTimeout   time.Duration
	logger        *slog.Logger
	metrics       *control.Metrics
	probes        *control.DebugProbes
}

func defaultOptions() options {
	return options{
		tcpNoDelay:    true,
		keepAlive:     true,
		highWaterMark: control.DefaultHighWaterMark,
		pollTimeout:   reactor.DefaultPollTimeout,
	}
}

// WithReusePort sets SO_REUSEPORT on the listening socket.
func WithReusePort(on bool) Option {
	return func(o *options) { o.reusePort = on }
}

// WithLogger overrides the "server" subsystem logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records connection and I/O counters in m.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHighWaterMark sets the initial per-connection output threshold.
func WithHighWaterMark(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.highWaterMark = n
		}
	}
}

func WithTCPNoDelay(on bool) Option {
	return func(o *options) { o.tcpNoDelay = on }
}

func WithKeepAlive(on bool) Option {
	return func(o *options) { o.keepAlive = on }
}

// WithDebugProbes publishes server state in dp while the server runs.
func WithDebugProbes(dp *control.DebugProbes) Option {
	return func(o *options) { o.probes = dp }
}

// WithCPUAffinity pins worker i to cpus[i % len(cpus)].
func WithCPUAffinity(cpus ...int) Option {
	return func(o *options) { o.cpus = append([]int(nil), cpus...) }
}

// WithPollTimeout bounds each worker loop's poll wait.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// FromConfig applies every tunable of cfg. Later options still win.
func FromConfig(cfg control.Config) Option {
	return func(o *options) {
		o.reusePort = cfg.ReusePort
		o.tcpNoDelay = cfg.TCPNoDelay
		o.keepAlive = cfg.KeepAlive
		if cfg.HighWaterMark > 0 {
			o.highWaterMark = cfg.HighWaterMark
		}
		o.threads = cfg.Threads
		o.cpus = append([]int(nil), cfg.CPUAffinity...)
		if cfg.PollTimeout > 0 {
			o.pollTimeout = cfg.PollTimeout
		}
	}
}
