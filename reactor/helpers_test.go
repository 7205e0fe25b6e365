// File: reactor/helpers_test.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-reactor/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLoop runs a loop on its own thread for the duration of the test.
func startLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	opts = append([]LoopOption{WithLogger(logger.Discard())}, opts...)
	lt := NewLoopThread(t.Name(), nil, -1, opts...)
	loop, err := lt.StartLoop()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, lt.Stop()) })
	return loop
}

// runSync executes fn on the loop thread and waits for it. A panic inside fn
// fails the test instead of killing the loop.
func runSync(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	done := make(chan any, 1)
	loop.QueueInLoop(func() {
		defer func() { done <- recover() }()
		fn()
	})
	select {
	case p := <-done:
		if p != nil {
			t.Fatalf("panic on loop thread: %v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run functor")
	}
}

// recordingHandler captures warnings and errors. Handlers derived through
// With share the same record slice.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, func() []slog.Record) {
	h := recordingHandler{mu: new(sync.Mutex), records: new([]slog.Record)}
	snapshot := func() []slog.Record {
		h.mu.Lock()
		defer h.mu.Unlock()
		return append([]slog.Record(nil), *h.records...)
	}
	return slog.New(h), snapshot
}

func (h recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }
