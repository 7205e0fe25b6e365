// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the one-loop-per-thread event reactor: an epoll
// multiplexer, channels binding descriptors to callbacks, the event loop with
// its cross-thread functor queue and eventfd wakeup, a timerfd-driven timer
// queue, and the loop threads that host them.
//
// Every EventLoop is pinned to the OS thread of the goroutine that created it
// (runtime.LockOSThread). Channels, timers and anything registered with a loop
// must only be touched from that thread; other goroutines hand work over with
// RunInLoop or QueueInLoop. Violating thread affinity panics.
//
// The package targets Linux (epoll, eventfd, timerfd).
package reactor
