// File: reactor/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel binds one descriptor to an interest set and its callbacks.

package reactor

import (
	"context"
	"log/slog"
	"runtime"
	"time"
	"weak"

	"github.com/bassosimone/runtimex"
)

// EventCallback handles write, close and error readiness.
type EventCallback func()

// ReadEventCallback handles read readiness; now is the poll return time.
type ReadEventCallback func(now time.Time)

// Channel dispatches readiness for a single descriptor. It never owns or
// closes the descriptor. A Channel belongs to exactly one EventLoop and is
// only used from that loop's thread.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  Events
	revents Events
	index   int
	logHup  bool

	tie  func() any
	tied bool

	eventHandling bool
	addedToLoop   bool

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
}

// NewChannel creates an unregistered channel for fd on loop.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		index:  indexNew,
		logHup: true,
	}
}

func (c *Channel) SetReadCallback(cb ReadEventCallback) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback)    { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback)    { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback)    { c.errorCallback = cb }

// Tie makes ch hold a weak reference to owner. While HandleEvent runs, the
// owner is upgraded to a strong reference so a callback that drops the last
// other reference cannot free it mid-dispatch. Events arriving after the
// owner is gone are ignored.
func Tie[T any](ch *Channel, owner *T) {
	wp := weak.Make(owner)
	ch.tie = func() any {
		if p := wp.Value(); p != nil {
			return p
		}
		return nil
	}
	ch.tied = true
}

func (c *Channel) Fd() int           { return c.fd }
func (c *Channel) Events() Events    { return c.events }
func (c *Channel) Revents() Events   { return c.revents }
func (c *Channel) IsNoneEvent() bool { return c.events == noneEvent }
func (c *Channel) IsWriting() bool   { return c.events&writeEvent != 0 }
func (c *Channel) IsReading() bool   { return c.events&readEvent != 0 }

// OwnerLoop returns the loop the channel belongs to.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// DoNotLogHup silences the hangup warning.
func (c *Channel) DoNotLogHup() { c.logHup = false }

func (c *Channel) setRevents(ev Events) { c.revents = ev }

// EnableReading adds read interest and updates the registration.
func (c *Channel) EnableReading() error {
	c.events |= readEvent
	return c.update()
}

// DisableReading drops read interest.
func (c *Channel) DisableReading() error {
	c.events &^= readEvent
	return c.update()
}

// EnableWriting adds write interest.
func (c *Channel) EnableWriting() error {
	c.events |= writeEvent
	return c.update()
}

// DisableWriting drops write interest.
func (c *Channel) DisableWriting() error {
	c.events &^= writeEvent
	return c.update()
}

// DisableAll clears the interest set.
func (c *Channel) DisableAll() error {
	c.events = noneEvent
	return c.update()
}

func (c *Channel) update() error {
	err := c.loop.UpdateChannel(c)
	c.addedToLoop = c.index != indexNew
	return err
}

// Remove unregisters the channel from its loop. The interest set must be
// empty (call DisableAll first).
func (c *Channel) Remove() error {
	runtimex.Assert(c.IsNoneEvent())
	c.addedToLoop = false
	return c.loop.RemoveChannel(c)
}

// Destroy checks the channel is safe to drop: not dispatching and no longer
// registered with its loop.
func (c *Channel) Destroy() {
	runtimex.Assert(!c.eventHandling)
	runtimex.Assert(!c.addedToLoop)
	if c.loop.IsInLoopThread() {
		runtimex.Assert(!c.loop.HasChannel(c))
	}
}

// HandleEvent dispatches the last observed events.
func (c *Channel) HandleEvent(now time.Time) {
	if c.tied {
		guard := c.tie()
		if guard == nil {
			return
		}
		c.handleEventWithGuard(now)
		runtime.KeepAlive(guard)
		return
	}
	c.handleEventWithGuard(now)
}

func (c *Channel) handleEventWithGuard(now time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.loop.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.loop.logger.Debug("channel event", slog.String("revents", c.ReventsString()))
	}

	if c.revents&EventHup != 0 && c.revents&EventIn == 0 {
		if c.logHup {
			c.loop.logger.Warn("channel hangup", slog.Int("fd", c.fd))
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&EventNval != 0 {
		c.loop.logger.Warn("channel invalid descriptor", slog.Int("fd", c.fd))
	}
	if c.revents&(EventErr|EventNval) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(EventIn|EventPri|EventRDHup) != 0 {
		if c.readCallback != nil {
			c.readCallback(now)
		}
	}
	if c.revents&EventOut != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

// ReventsString renders the last observed events for logging.
func (c *Channel) ReventsString() string { return eventsToString(c.fd, c.revents) }

// EventsString renders the interest set for logging.
func (c *Channel) EventsString() string { return eventsToString(c.fd, c.events) }
