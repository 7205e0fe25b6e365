// File: reactor/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop runs the poll/dispatch/drain cycle on its owning OS thread.

package reactor

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/benbjohnson/clock"
	"github.com/eapache/queue"
	"github.com/momentics/hioload-reactor/internal/logger"
	"go.uber.org/multierr"
)

// DefaultPollTimeout bounds a single multiplexer wait.
const DefaultPollTimeout = 50 * time.Millisecond

// Functor is a unit of work marshaled onto a loop.
type Functor func()

// LoopOption customizes an EventLoop.
type LoopOption func(*loopOptions)

type loopOptions struct {
	name        string
	pollTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// WithName labels the loop in logs and metrics.
func WithName(name string) LoopOption {
	return func(o *loopOptions) { o.name = name }
}

// WithPollTimeout overrides DefaultPollTimeout.
func WithPollTimeout(d time.Duration) LoopOption {
	return func(o *loopOptions) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// WithClock sets the time source used for poll timestamps and timers.
func WithClock(c clock.Clock) LoopOption {
	return func(o *loopOptions) { o.clock = c }
}

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) LoopOption {
	return func(o *loopOptions) { o.logger = l }
}

// EventLoop is a reactor bound to one OS thread.
type EventLoop struct {
	name        string
	threadID    int
	pollTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	looping                atomic.Bool
	quit                   atomic.Bool
	closed                 bool
	eventHandling          bool
	callingPendingFunctors atomic.Bool
	iteration              atomic.Uint64

	pollReturnTime       time.Time
	poller               Poller
	timerQueue           *TimerQueue
	wakeupFd             int // written under mu, -1 once closed
	wakeupChannel        *Channel
	activeChannels       []*Channel
	currentActiveChannel *Channel

	mu              sync.Mutex
	pendingFunctors *queue.Queue // of Functor, guarded by mu
	spareFunctors   *queue.Queue // loop thread only
}

// NewEventLoop creates a loop owned by the calling goroutine's OS thread.
// The goroutine is locked to its thread until Close. Creating a second loop
// on the same thread panics.
func NewEventLoop(opts ...LoopOption) (*EventLoop, error) {
	o := loopOptions{
		pollTimeout: DefaultPollTimeout,
		clock:       clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	runtime.LockOSThread()
	tid := threadID()
	if o.name == "" {
		o.name = "loop-" + strconv.Itoa(tid)
	}
	if o.logger == nil {
		o.logger = logger.Logger("reactor")
	}
	l := &EventLoop{
		name:            o.name,
		threadID:        tid,
		pollTimeout:     o.pollTimeout,
		clock:           o.clock,
		logger:          o.logger.With(slog.String("loop", o.name)),
		wakeupFd:        -1,
		pendingFunctors: queue.New(),
		spareFunctors:   queue.New(),
	}
	registerLoop(tid, l)

	var err error
	if l.poller, err = newPoller(l); err != nil {
		l.abortInit()
		return nil, err
	}
	if l.wakeupFd, err = createEventfd(); err != nil {
		l.abortInit()
		return nil, err
	}
	l.wakeupChannel = NewChannel(l, l.wakeupFd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	if err = l.wakeupChannel.EnableReading(); err != nil {
		l.abortInit()
		return nil, err
	}
	if l.timerQueue, err = newTimerQueue(l); err != nil {
		l.abortInit()
		return nil, err
	}
	l.logger.Debug("event loop created", slog.Int("thread", tid))
	return l, nil
}

func (l *EventLoop) abortInit() {
	_ = l.closeResources()
	unregisterLoop(l.threadID, l)
	runtime.UnlockOSThread()
}

// Name returns the loop label.
func (l *EventLoop) Name() string { return l.name }

// Loop runs the dispatch cycle until Quit. It must be called on the loop's
// thread. Functors queued before Quit are still executed before Loop
// returns. Panics raised by callbacks propagate out of Loop.
func (l *EventLoop) Loop() {
	runtimex.Assert(!l.looping.Load())
	l.AssertInLoopThread()
	l.looping.Store(true)
	l.logger.Debug("event loop start looping")

	for !l.quit.Load() {
		now, active, err := l.poller.Poll(l.pollTimeout, l.activeChannels[:0])
		l.activeChannels = active
		l.pollReturnTime = now
		l.iteration.Add(1)
		if err != nil {
			l.logger.Error("poll failed", slog.Any("err", err))
		}

		l.eventHandling = true
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(now)
		}
		l.currentActiveChannel = nil
		l.eventHandling = false

		l.doPendingFunctors()
	}
	l.doPendingFunctors()

	l.logger.Debug("event loop stop looping")
	l.quit.Store(false)
	l.looping.Store(false)
}

// Quit asks the loop to return from Loop. Safe from any goroutine.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// Close releases the loop's descriptors and clears its thread registration.
// It must be called on the loop's thread after Loop has returned.
func (l *EventLoop) Close() error {
	l.AssertInLoopThread()
	runtimex.Assert(!l.looping.Load())
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	if l.timerQueue != nil {
		err = multierr.Append(err, l.timerQueue.close())
	}
	if l.wakeupChannel != nil {
		err = multierr.Append(err, l.wakeupChannel.DisableAll())
		err = multierr.Append(err, l.wakeupChannel.Remove())
	}
	err = multierr.Append(err, l.closeResources())
	unregisterLoop(l.threadID, l)
	runtime.UnlockOSThread()
	l.logger.Debug("event loop closed")
	return err
}

func (l *EventLoop) closeResources() error {
	var err error
	l.mu.Lock()
	if l.wakeupFd >= 0 {
		err = multierr.Append(err, closeFd(l.wakeupFd))
		l.wakeupFd = -1
	}
	l.mu.Unlock()
	if l.poller != nil {
		err = multierr.Append(err, l.poller.Close())
	}
	return err
}

// RunInLoop runs fn now when called on the loop's thread, otherwise queues
// it.
func (l *EventLoop) RunInLoop(fn Functor) {
	if l.IsInLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop appends fn to the pending functors. The loop is woken when the
// caller is another thread or the loop is currently draining functors, so fn
// runs on the next iteration instead of after a full poll timeout. Functors
// queued after Close are dropped.
func (l *EventLoop) QueueInLoop(fn Functor) {
	l.mu.Lock()
	if l.wakeupFd < 0 {
		l.mu.Unlock()
		l.logger.Warn("event loop closed, functor dropped")
		return
	}
	l.pendingFunctors.Add(fn)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.wakeup()
	}
}

// QueueSize returns the number of pending functors.
func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingFunctors.Length()
}

// Iteration returns the number of completed poll calls.
func (l *EventLoop) Iteration() uint64 { return l.iteration.Load() }

// PollReturnTime is the time the last poll returned. Loop thread only.
func (l *EventLoop) PollReturnTime() time.Time { return l.pollReturnTime }

// Now returns the loop's clock time.
func (l *EventLoop) Now() time.Time { return l.clock.Now() }

// RunAt schedules fn at when.
func (l *EventLoop) RunAt(when time.Time, fn func()) TimerID {
	return l.timerQueue.AddTimer(fn, when, 0)
}

// RunAfter schedules fn after delay.
func (l *EventLoop) RunAfter(delay time.Duration, fn func()) TimerID {
	return l.RunAt(l.clock.Now().Add(delay), fn)
}

// RunEvery schedules fn every interval, first run after one interval.
func (l *EventLoop) RunEvery(interval time.Duration, fn func()) TimerID {
	return l.timerQueue.AddTimer(fn, l.clock.Now().Add(interval), interval)
}

// Cancel cancels a timer. Off-thread cancellation takes effect
// asynchronously.
func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.Cancel(id)
}

// UpdateChannel forwards a channel's registration change to the poller.
func (l *EventLoop) UpdateChannel(ch *Channel) error {
	runtimex.Assert(ch.OwnerLoop() == l)
	l.AssertInLoopThread()
	return l.poller.UpdateChannel(ch)
}

// RemoveChannel unregisters a channel. During dispatch only the channel being
// handled, or one not in this iteration's active list, may be removed.
func (l *EventLoop) RemoveChannel(ch *Channel) error {
	runtimex.Assert(ch.OwnerLoop() == l)
	l.AssertInLoopThread()
	if l.eventHandling {
		runtimex.Assert(l.currentActiveChannel == ch || !slices.Contains(l.activeChannels, ch))
	}
	return l.poller.RemoveChannel(ch)
}

// HasChannel reports whether ch is registered with this loop's poller.
func (l *EventLoop) HasChannel(ch *Channel) bool {
	runtimex.Assert(ch.OwnerLoop() == l)
	l.AssertInLoopThread()
	return l.poller.HasChannel(ch)
}

// IsInLoopThread reports whether the caller runs on the loop's thread.
func (l *EventLoop) IsInLoopThread() bool {
	return threadID() == l.threadID
}

// AssertInLoopThread panics when called off the loop's thread.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		l.abortNotInLoopThread()
	}
}

func (l *EventLoop) abortNotInLoopThread() {
	msg := fmt.Sprintf("reactor: EventLoop %s was created in thread %d, current thread is %d",
		l.name, l.threadID, threadID())
	l.logger.Error(msg)
	panic(msg)
}

func (l *EventLoop) wakeup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wakeupFd < 0 {
		return
	}
	if err := writeEventfd(l.wakeupFd); err != nil {
		l.logger.Error("wakeup write failed", slog.Any("err", err))
	}
}

func (l *EventLoop) handleWakeup(time.Time) {
	if _, err := readEventfd(l.wakeupFd); err != nil {
		l.logger.Error("wakeup read failed", slog.Any("err", err))
	}
}

// doPendingFunctors swaps the pending queue with the empty spare under the
// lock and runs the swapped batch outside it. Functors queued meanwhile land
// in the fresh queue and run on the next iteration.
func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	spare := l.spareFunctors
	if spare == nil {
		spare = queue.New()
	}
	l.spareFunctors = nil

	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = spare
	l.mu.Unlock()

	for functors.Length() > 0 {
		functors.Remove().(Functor)()
	}
	l.spareFunctors = functors

	l.callingPendingFunctors.Store(false)
}
