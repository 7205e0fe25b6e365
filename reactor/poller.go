// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral multiplexer contract used by EventLoop.

package reactor

import "time"

// Poller is the readiness multiplexer owned by one EventLoop.
//
// Registration methods are keyed by the channel's descriptor and must be
// called from the owning loop's thread. Failures are returned to the caller
// and never retried internally.
type Poller interface {
	// Poll waits at most timeout for readiness and appends the ready channels
	// to active, in the order reported by the kernel. It returns the time the
	// wait returned. An interrupted wait yields no channels and no error.
	Poll(timeout time.Duration, active []*Channel) (time.Time, []*Channel, error)

	// UpdateChannel adds or modifies the channel's interest set.
	UpdateChannel(ch *Channel) error

	// RemoveChannel forgets the channel. Its interest set must be empty.
	RemoveChannel(ch *Channel) error

	// HasChannel reports whether the channel is known to the poller.
	HasChannel(ch *Channel) bool

	// Close releases the multiplexer descriptor.
	Close() error
}

// Registration states kept in Channel.index.
const (
	indexNew     = -1
	indexAdded   = 1
	indexDeleted = 2
)
