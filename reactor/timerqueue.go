// File: reactor/timerqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TimerQueue multiplexes loop timers onto a single timerfd.
//
// Two indices are kept in step: an ordering heap keyed by (expiration, seq)
// answering "what fires next", and a map keyed by TimerID for cancellation.
// Both are touched only on the owning loop's thread.

package reactor

import (
	"container/heap"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/runtimex"
	"go.uber.org/multierr"
)

// TimerQueue owns the timers of one EventLoop.
type TimerQueue struct {
	loop           *EventLoop
	timerfd        int
	timerfdChannel *Channel

	timers timerHeap
	active map[TimerID]*timer

	freeSlots []uint32 // loop thread only
	nextSlot  atomic.Uint32

	callingExpiredTimers bool
	cancelingTimers      map[TimerID]struct{}
}

func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := createTimerfd()
	if err != nil {
		return nil, err
	}
	q := &TimerQueue{
		loop:            loop,
		timerfd:         fd,
		active:          make(map[TimerID]*timer),
		cancelingTimers: make(map[TimerID]struct{}),
	}
	q.timerfdChannel = NewChannel(loop, fd)
	q.timerfdChannel.SetReadCallback(q.handleRead)
	if err := q.timerfdChannel.EnableReading(); err != nil {
		_ = closeFd(fd)
		return nil, err
	}
	return q, nil
}

// AddTimer schedules cb at when, repeating every interval when interval > 0.
// Safe from any goroutine; insertion happens on the loop thread.
func (q *TimerQueue) AddTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	t := newTimer(cb, when, interval)
	t.slot = q.allocSlot()
	q.loop.RunInLoop(func() { q.addTimerInLoop(t) })
	return t.id()
}

// Cancel removes a pending timer. Unknown or already released handles are
// ignored.
func (q *TimerQueue) Cancel(id TimerID) {
	if !id.Valid() {
		return
	}
	q.loop.RunInLoop(func() { q.cancelInLoop(id) })
}

// Len returns the number of pending timers. Loop thread only.
func (q *TimerQueue) Len() int { return len(q.timers) }

func (q *TimerQueue) allocSlot() uint32 {
	if q.loop.IsInLoopThread() {
		if n := len(q.freeSlots); n > 0 {
			slot := q.freeSlots[n-1]
			q.freeSlots = q.freeSlots[:n-1]
			return slot
		}
	}
	return q.nextSlot.Add(1)
}

func (q *TimerQueue) addTimerInLoop(t *timer) {
	q.loop.AssertInLoopThread()
	if q.insert(t) {
		q.rearm(t.expiration)
	}
}

func (q *TimerQueue) cancelInLoop(id TimerID) {
	q.loop.AssertInLoopThread()
	q.checkIndices()
	if t, ok := q.active[id]; ok {
		heap.Remove(&q.timers, t.heapIndex)
		delete(q.active, id)
		q.release(t)
	} else if q.callingExpiredTimers {
		q.cancelingTimers[id] = struct{}{}
	}
	q.checkIndices()
}

// insert adds t to both indices and reports whether it became the earliest.
func (q *TimerQueue) insert(t *timer) bool {
	q.checkIndices()
	earliestChanged := len(q.timers) == 0 || t.expiration.Before(q.timers[0].expiration)
	heap.Push(&q.timers, t)
	q.active[t.id()] = t
	q.checkIndices()
	return earliestChanged
}

func (q *TimerQueue) handleRead(time.Time) {
	q.loop.AssertInLoopThread()
	if _, err := readTimerfd(q.timerfd); err != nil {
		q.loop.logger.Error("timerfd read failed",
			slog.Any("err", err), slog.String("class", errclass.New(err)))
	}
	q.expire(q.loop.clock.Now())
}

// expire runs every timer due at or before now, then reinserts repeating
// timers relative to now.
func (q *TimerQueue) expire(now time.Time) {
	expired := q.getExpired(now)

	q.callingExpiredTimers = true
	clear(q.cancelingTimers)
	for _, t := range expired {
		t.run()
	}
	q.callingExpiredTimers = false

	q.reset(expired, now)
}

func (q *TimerQueue) getExpired(now time.Time) []*timer {
	q.checkIndices()
	var expired []*timer
	for len(q.timers) > 0 && !q.timers[0].expiration.After(now) {
		t := heap.Pop(&q.timers).(*timer)
		delete(q.active, t.id())
		expired = append(expired, t)
	}
	q.checkIndices()
	return expired
}

func (q *TimerQueue) reset(expired []*timer, now time.Time) {
	for _, t := range expired {
		if _, canceled := q.cancelingTimers[t.id()]; t.repeat && !canceled {
			t.restart(now)
			q.insert(t)
		} else {
			q.release(t)
		}
	}
	clear(q.cancelingTimers)

	if len(q.timers) > 0 {
		q.rearm(q.timers[0].expiration)
	} else if err := disarmTimerfd(q.timerfd); err != nil {
		q.loop.logger.Error("timerfd disarm failed", slog.Any("err", err))
	}
}

func (q *TimerQueue) rearm(when time.Time) {
	if err := armTimerfd(q.timerfd, when.Sub(q.loop.clock.Now())); err != nil {
		q.loop.logger.Error("timerfd arm failed", slog.Any("err", err))
	}
}

func (q *TimerQueue) release(t *timer) {
	q.freeSlots = append(q.freeSlots, t.slot)
	t.callback = nil
}

func (q *TimerQueue) checkIndices() {
	runtimex.Assert(len(q.timers) == len(q.active))
}

func (q *TimerQueue) close() error {
	var err error
	err = multierr.Append(err, q.timerfdChannel.DisableAll())
	err = multierr.Append(err, q.timerfdChannel.Remove())
	err = multierr.Append(err, closeFd(q.timerfd))
	for _, t := range q.timers {
		t.callback = nil
	}
	q.timers = nil
	clear(q.active)
	return err
}
