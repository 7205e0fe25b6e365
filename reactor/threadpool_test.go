// File: reactor/threadpool_test.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-reactor/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestThreadPoolRoundRobin(t *testing.T) {
	base := startLoop(t)
	var inits atomic.Int32
	pool := NewThreadPool(base, "worker")

	var loops, next []*EventLoop
	runSync(t, base, func() {
		pool.SetThreadNum(3)
		pool.SetLoopOptions(WithLogger(logger.Discard()))
		assert.NoError(t, pool.Start(func(l *EventLoop) {
			if l.IsInLoopThread() {
				inits.Add(1)
			}
		}))
		assert.ErrorIs(t, pool.Start(nil), ErrPoolStarted)
		loops = pool.AllLoops()
		for range 6 {
			next = append(next, pool.NextLoop())
		}
	})
	t.Cleanup(func() { assert.NoError(t, pool.Stop()) })

	assert.EqualValues(t, 3, inits.Load())
	assert.Len(t, loops, 3)
	assert.NotContains(t, loops, base)
	assert.Equal(t, loops, next[:3])
	assert.Equal(t, loops, next[3:])
	assert.Equal(t, "worker0", loops[0].Name())
	assert.True(t, pool.Started())
}

func TestThreadPoolWithoutWorkersUsesBase(t *testing.T) {
	base := startLoop(t)
	pool := NewThreadPool(base, "none")
	var initLoop *EventLoop
	runSync(t, base, func() {
		assert.NoError(t, pool.Start(func(l *EventLoop) { initLoop = l }))
		assert.Same(t, base, pool.NextLoop())
		assert.Same(t, base, pool.LoopForHash(42))
		assert.Equal(t, []*EventLoop{base}, pool.AllLoops())
	})
	assert.Same(t, base, initLoop)
	assert.NoError(t, pool.Stop())
}

func TestThreadPoolLoopForHashIsStable(t *testing.T) {
	base := startLoop(t)
	pool := NewThreadPool(base, "hash")
	runSync(t, base, func() {
		pool.SetThreadNum(4)
		pool.SetLoopOptions(WithLogger(logger.Discard()))
		assert.NoError(t, pool.Start(nil))
		assert.Same(t, pool.LoopForHash(7), pool.LoopForHash(7))
		assert.Same(t, pool.LoopForHash(1), pool.LoopForHash(5))
		assert.Same(t, pool.LoopForKey("session-17"), pool.LoopForKey("session-17"))
		assert.Contains(t, pool.AllLoops(), pool.LoopForKey("tenant-a"))
	})
	assert.NoError(t, pool.Stop())
}
