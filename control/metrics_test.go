// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoop struct {
	name  string
	queue int
	iter  uint64
}

func (f *fakeLoop) Name() string      { return f.name }
func (f *fakeLoop) QueueSize() int    { return f.queue }
func (f *fakeLoop) Iteration() uint64 { return f.iter }

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics("test")
	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionRemoved()
	m.ConnectionClosed()
	m.BytesRead(10)
	m.BytesWritten(7)
	m.BytesWritten(-1)
	m.HighWaterMark()
	m.IOError("read", "ECONNRESET")
	require.NoError(t, m.RegisterLoop(&fakeLoop{name: "w0", queue: 3, iter: 42}))

	snap, err := m.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap["hioload_connections_accepted_total"])
	assert.Equal(t, 1.0, snap["hioload_connections_active"])
	assert.Equal(t, 1.0, snap["hioload_connections_closed_total"])
	assert.Equal(t, 10.0, snap["hioload_bytes_read_total"])
	assert.Equal(t, 7.0, snap["hioload_bytes_written_total"])
	assert.Equal(t, 1.0, snap["hioload_high_water_mark_total"])
	assert.Equal(t, 1.0, snap["hioload_io_errors_total{class=ECONNRESET}{op=read}"])
	assert.Equal(t, 3.0, snap["hioload_loop_pending_functors{loop=w0}"])
	assert.Equal(t, 42.0, snap["hioload_loop_iterations_total{loop=w0}"])

	assert.Error(t, m.RegisterLoop(&fakeLoop{name: "w0"}), "duplicate loop")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionAccepted()
		m.BytesRead(1)
		m.IOError("write", "EPIPE")
		assert.NoError(t, m.RegisterLoop(&fakeLoop{}))
	})
	snap, err := m.GetSnapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.Nil(t, m.Registry())
}
