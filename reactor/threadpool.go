// File: reactor/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadPool shards work across a fixed set of loop threads.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bassosimone/runtimex"
	"github.com/momentics/hioload-reactor/affinity"
	"github.com/spaolacci/murmur3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrPoolStarted is returned by a second Start.
var ErrPoolStarted = errors.New("reactor: thread pool already started")

// ThreadPool owns numThreads LoopThreads beside a base loop. With zero
// threads every request is served by the base loop.
type ThreadPool struct {
	base       *EventLoop
	name       string
	numThreads int
	cpus       []int
	loopOpts   []LoopOption

	started bool
	next    int
	threads []*LoopThread
	loops   []*EventLoop
}

// NewThreadPool creates a pool around base. It is configured and started
// from base's thread.
func NewThreadPool(base *EventLoop, name string) *ThreadPool {
	return &ThreadPool{base: base, name: name}
}

// SetThreadNum sets the number of worker loops. Call before Start.
func (p *ThreadPool) SetThreadNum(n int) {
	runtimex.Assert(!p.started)
	p.numThreads = max(n, 0)
}

// SetCPUAffinity pins worker i to cpus[i % len(cpus)].
func (p *ThreadPool) SetCPUAffinity(cpus []int) {
	runtimex.Assert(!p.started)
	p.cpus = cpus
}

// SetLoopOptions applies opts to every worker loop.
func (p *ThreadPool) SetLoopOptions(opts ...LoopOption) {
	runtimex.Assert(!p.started)
	p.loopOpts = opts
}

// Start launches the worker loops. cb runs on each worker before it starts
// looping, or once on the base loop when the pool has no workers.
func (p *ThreadPool) Start(cb ThreadInitCallback) error {
	if p.started {
		return ErrPoolStarted
	}
	p.base.AssertInLoopThread()
	p.started = true

	p.threads = make([]*LoopThread, p.numThreads)
	p.loops = make([]*EventLoop, p.numThreads)
	for i := range p.threads {
		cpu := affinity.Spread(p.cpus, i)
		p.threads[i] = NewLoopThread(fmt.Sprintf("%s%d", p.name, i), cb, cpu, p.loopOpts...)
	}

	var g errgroup.Group
	for i, t := range p.threads {
		g.Go(func() error {
			loop, err := t.StartLoop()
			p.loops[i] = loop
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return multierr.Append(err, p.Stop())
	}

	if p.numThreads == 0 && cb != nil {
		cb(p.base)
	}
	return nil
}

// NextLoop returns workers round-robin, or the base loop when there are
// none.
func (p *ThreadPool) NextLoop() *EventLoop {
	p.base.AssertInLoopThread()
	runtimex.Assert(p.started)
	if len(p.loops) == 0 {
		return p.base
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// LoopForHash maps hash onto a fixed worker.
func (p *ThreadPool) LoopForHash(hash uint64) *EventLoop {
	p.base.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.base
	}
	return p.loops[hash%uint64(len(p.loops))]
}

// LoopForKey pins a key, such as a session or tenant id, to one worker by
// its murmur3 hash.
func (p *ThreadPool) LoopForKey(key string) *EventLoop {
	return p.LoopForHash(murmur3.Sum64([]byte(key)))
}

// AllLoops returns the workers, or just the base loop.
func (p *ThreadPool) AllLoops() []*EventLoop {
	p.base.AssertInLoopThread()
	runtimex.Assert(p.started)
	if len(p.loops) == 0 {
		return []*EventLoop{p.base}
	}
	return append([]*EventLoop(nil), p.loops...)
}

// Stop quits every worker and waits for them to exit. A stopped pool can
// be started again.
func (p *ThreadPool) Stop() error {
	var (
		mu  sync.Mutex
		err error
		wg  sync.WaitGroup
	)
	for _, t := range p.threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := t.Stop()
			mu.Lock()
			err = multierr.Append(err, e)
			mu.Unlock()
		}()
	}
	wg.Wait()
	p.threads = nil
	p.loops = nil
	p.started = false
	return err
}

func (p *ThreadPool) Started() bool { return p.started }
func (p *ThreadPool) Name() string  { return p.name }
