// File: reactor/loopthread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LoopThread runs one EventLoop on a dedicated, locked OS thread.

package reactor

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/momentics/hioload-reactor/affinity"
)

// ThreadInitCallback runs on a loop's thread before it starts looping.
type ThreadInitCallback func(*EventLoop)

// ErrLoopThreadStarted is returned by a second StartLoop.
var ErrLoopThreadStarted = errors.New("reactor: loop thread already started")

// LoopThread owns a goroutine locked to an OS thread running an EventLoop.
type LoopThread struct {
	name string
	init ThreadInitCallback
	opts []LoopOption
	cpu  int

	mu      sync.Mutex
	started bool
	loop    *EventLoop
	done    chan struct{}
	err     error
}

// NewLoopThread prepares a loop thread. cb may be nil. A negative cpu
// leaves the thread unpinned.
func NewLoopThread(name string, cb ThreadInitCallback, cpu int, opts ...LoopOption) *LoopThread {
	return &LoopThread{
		name: name,
		init: cb,
		opts: opts,
		cpu:  cpu,
		done: make(chan struct{}),
	}
}

// StartLoop spawns the thread and blocks until its loop is ready to accept
// functors.
func (t *LoopThread) StartLoop() (*EventLoop, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil, ErrLoopThreadStarted
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.run(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop, nil
}

func (t *LoopThread) run(ready chan<- error) {
	defer close(t.done)

	opts := append([]LoopOption{WithName(t.name)}, t.opts...)
	loop, err := NewEventLoop(opts...)
	if err != nil {
		t.setErr(err)
		ready <- err
		return
	}
	if t.cpu >= 0 {
		if err := affinity.SetAffinity(t.cpu); err != nil {
			loop.logger.Warn("cpu pinning failed", slog.Int("cpu", t.cpu), slog.Any("err", err))
		}
	}
	if t.init != nil {
		t.init(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	ready <- nil

	loop.Loop()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	t.setErr(loop.Close())
}

func (t *LoopThread) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Loop returns the running loop, or nil.
func (t *LoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop quits the loop and waits for the thread to release it. Stopping a
// thread that never started is a no-op.
func (t *LoopThread) Stop() error {
	t.mu.Lock()
	started, loop := t.started, t.loop
	t.mu.Unlock()
	if !started {
		return nil
	}
	if loop != nil {
		loop.Quit()
	}
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
