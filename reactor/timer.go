// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
//
// Timer entries and their cancellation handles.

package reactor

import (
	"fmt"
	"sync/atomic"
	"time"
)

var timerSeq atomic.Uint64

// TimerID identifies a scheduled timer for cancellation. The sequence is
// unique per process; the slot is the timer's entry in its queue's table and
// may be recycled, so an old handle never matches a newer timer. The zero
// value refers to no timer.
type TimerID struct {
	seq  uint64
	slot uint32
}

// Valid reports whether id was returned by a scheduling call.
func (id TimerID) Valid() bool { return id.seq != 0 }

func (id TimerID) String() string {
	return fmt.Sprintf("timer#%d@%d", id.seq, id.slot)
}

type timer struct {
	callback   func()
	expiration time.Time
	interval   time.Duration
	repeat     bool
	seq        uint64
	slot       uint32
	heapIndex  int
}

func newTimer(cb func(), when time.Time, interval time.Duration) *timer {
	return &timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		seq:        timerSeq.Add(1),
		heapIndex:  -1,
	}
}

func (t *timer) id() TimerID { return TimerID{seq: t.seq, slot: t.slot} }

func (t *timer) run() { t.callback() }

// restart moves a repeating timer to now+interval.
func (t *timer) restart(now time.Time) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

// timerHeap orders timers by (expiration, seq) and keeps heapIndex current
// so cancellation can remove from the middle.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].seq < h[j].seq
	}
	return h[i].expiration.Before(h[j].expiration)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}
