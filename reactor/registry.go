// File: reactor/registry.go
// Author: momentics <momentics@gmail.com>
//
// Per-thread loop registry enforcing one EventLoop per OS thread.
//
// Contract: NewEventLoop registers the loop under the calling OS thread id
// after locking the goroutine to that thread; EventLoop.Close removes the
// entry before unlocking. Lookups from goroutines that are not locked to a
// thread are meaningless and return nil.

package reactor

import (
	"fmt"
	"sync"
)

var loopsByThread sync.Map // map[int]*EventLoop

func registerLoop(tid int, l *EventLoop) {
	if prev, loaded := loopsByThread.LoadOrStore(tid, l); loaded {
		msg := fmt.Sprintf("reactor: another EventLoop (%s) exists in thread %d", prev.(*EventLoop).name, tid)
		l.logger.Error(msg)
		panic(msg)
	}
}

func unregisterLoop(tid int, l *EventLoop) {
	loopsByThread.CompareAndDelete(tid, l)
}

// LoopOfCurrentThread returns the EventLoop owned by the calling OS thread,
// or nil.
func LoopOfCurrentThread() *EventLoop {
	if v, ok := loopsByThread.Load(threadID()); ok {
		return v.(*EventLoop)
	}
	return nil
}
