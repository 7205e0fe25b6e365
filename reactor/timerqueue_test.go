// File: reactor/timerqueue_test.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

// Timers are scheduled hours ahead on a mock clock so the real timerfd never
// fires during a test; expiry is driven by advancing the mock on the loop
// thread and calling expire directly.
func mockLoop(t *testing.T) (*EventLoop, *clock.Mock) {
	mock := clock.NewMock()
	return startLoop(t, WithClock(mock)), mock
}

func advance(loop *EventLoop, mock *clock.Mock, d time.Duration) {
	mock.Add(d)
	loop.timerQueue.expire(mock.Now())
}

func TestTimerFiresAtExpiration(t *testing.T) {
	loop, mock := mockLoop(t)
	fired := 0
	id := loop.RunAfter(time.Hour, func() { fired++ })
	assert.True(t, id.Valid())

	runSync(t, loop, func() {
		assert.Equal(t, 1, loop.timerQueue.Len())
		advance(loop, mock, 59*time.Minute)
		assert.Equal(t, 0, fired)
		advance(loop, mock, time.Minute)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, loop.timerQueue.Len())
		advance(loop, mock, time.Hour)
		assert.Equal(t, 1, fired)
	})
}

func TestTimersFireInExpirationThenSequenceOrder(t *testing.T) {
	loop, mock := mockLoop(t)
	var order []string
	loop.RunAfter(2*time.Hour, func() { order = append(order, "late") })
	loop.RunAfter(time.Hour, func() { order = append(order, "a") })
	loop.RunAfter(time.Hour, func() { order = append(order, "b") })

	runSync(t, loop, func() { advance(loop, mock, 3*time.Hour) })
	var got []string
	runSync(t, loop, func() { got = append(got, order...) })
	assert.Equal(t, []string{"a", "b", "late"}, got)
}

func TestRepeatingTimerRestartsFromActualFireTime(t *testing.T) {
	loop, mock := mockLoop(t)
	fired := 0
	loop.RunEvery(time.Hour, func() { fired++ })

	runSync(t, loop, func() {
		// Fire 30 minutes late: next expiration is now+interval.
		advance(loop, mock, 90*time.Minute)
		assert.Equal(t, 1, fired)
		if !assert.Equal(t, 1, loop.timerQueue.Len()) {
			return
		}
		assert.Equal(t, mock.Now().Add(time.Hour), loop.timerQueue.timers[0].expiration)

		advance(loop, mock, 59*time.Minute)
		assert.Equal(t, 1, fired)
		advance(loop, mock, time.Minute)
		assert.Equal(t, 2, fired)
	})
}

func TestCancelPendingTimer(t *testing.T) {
	loop, mock := mockLoop(t)
	fired := false
	id := loop.RunAfter(time.Hour, func() { fired = true })
	loop.Cancel(id)

	runSync(t, loop, func() {
		assert.Equal(t, 0, loop.timerQueue.Len())
		assert.Empty(t, loop.timerQueue.active)
		advance(loop, mock, 2*time.Hour)
	})
	assert.False(t, fired)
}

func TestCancelRepeatingTimerFromOwnCallback(t *testing.T) {
	loop, mock := mockLoop(t)
	fired := 0
	var id TimerID
	runSync(t, loop, func() {
		id = loop.RunEvery(time.Hour, func() {
			fired++
			loop.Cancel(id)
		})
	})

	runSync(t, loop, func() {
		advance(loop, mock, time.Hour)
		assert.Equal(t, 1, fired)
		assert.Equal(t, 0, loop.timerQueue.Len())
		advance(loop, mock, 5*time.Hour)
		assert.Equal(t, 1, fired)
	})
}

func TestCancelSiblingExpiredOnSameTick(t *testing.T) {
	loop, mock := mockLoop(t)
	firedB := 0
	var b TimerID
	runSync(t, loop, func() {
		loop.RunAfter(time.Hour, func() { loop.Cancel(b) })
		b = loop.RunEvery(time.Hour, func() { firedB++ })
	})

	runSync(t, loop, func() {
		advance(loop, mock, time.Hour)
		// b was already collected for this tick; it runs once and is not
		// rearmed.
		assert.Equal(t, 1, firedB)
		assert.Equal(t, 0, loop.timerQueue.Len())
		advance(loop, mock, 3*time.Hour)
		assert.Equal(t, 1, firedB)
	})
}

func TestStaleTimerIDDoesNotCancelReusedSlot(t *testing.T) {
	loop, mock := mockLoop(t)
	var first, second TimerID
	runSync(t, loop, func() {
		first = loop.RunAfter(time.Hour, func() {})
		advance(loop, mock, time.Hour)
		second = loop.RunAfter(time.Hour, func() {})
		loop.Cancel(first)
		assert.Equal(t, 1, loop.timerQueue.Len())
	})
	assert.Equal(t, first.slot, second.slot)
	assert.NotEqual(t, first.seq, second.seq)
}

func TestCancelZeroTimerID(t *testing.T) {
	loop, _ := mockLoop(t)
	var id TimerID
	assert.False(t, id.Valid())
	assert.NotPanics(t, func() { loop.Cancel(id) })
}

func TestIndicesStayEqualUnderChurn(t *testing.T) {
	loop, mock := mockLoop(t)
	ids := make([]TimerID, 0, 64)
	runSync(t, loop, func() {
		for i := range 64 {
			ids = append(ids, loop.RunEvery(time.Duration(i+1)*time.Minute, func() {}))
		}
		for i := 0; i < len(ids); i += 3 {
			loop.Cancel(ids[i])
		}
		advance(loop, mock, 30*time.Minute)
		assert.Equal(t, len(loop.timerQueue.timers), len(loop.timerQueue.active))
		assert.Equal(t, 64-22, loop.timerQueue.Len())
	})
}

func TestRunAfterWithRealClock(t *testing.T) {
	loop := startLoop(t)
	done := make(chan time.Time, 1)
	start := time.Now()
	loop.RunAfter(20*time.Millisecond, func() { done <- time.Now() })
	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestRunEveryWithRealClockStopsAfterCancel(t *testing.T) {
	loop := startLoop(t)
	ticks := make(chan struct{}, 16)
	id := loop.RunEvery(5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	for range 3 {
		select {
		case <-ticks:
		case <-time.After(5 * time.Second):
			t.Fatal("repeating timer stalled")
		}
	}
	loop.Cancel(id)
	runSync(t, loop, func() { assert.Equal(t, 0, loop.timerQueue.Len()) })
}
