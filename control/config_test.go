// control/config_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHighWaterMark, cfg.HighWaterMark)
	assert.Equal(t, 50*time.Millisecond, cfg.PollTimeout)
}

func TestConfigFromEnv(t *testing.T) {
	cfg, err := configFromLookup("HIO", envLookup(map[string]string{
		"HIO_LISTEN_ADDR":     "127.0.0.1:7000",
		"HIO_NAME":            "echo",
		"HIO_THREADS":         "4",
		"HIO_HIGH_WATER_MARK": "1024",
		"HIO_POLL_TIMEOUT":    "10ms",
		"HIO_REUSE_PORT":      "true",
		"HIO_TCP_NODELAY":     "0",
		"HIO_CPU_AFFINITY":    "0, 2",
	}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
	assert.Equal(t, "echo", cfg.Name)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 1024, cfg.HighWaterMark)
	assert.Equal(t, 10*time.Millisecond, cfg.PollTimeout)
	assert.True(t, cfg.ReusePort)
	assert.False(t, cfg.TCPNoDelay)
	assert.True(t, cfg.KeepAlive)
	assert.Equal(t, []int{0, 2}, cfg.CPUAffinity)
}

func TestConfigFromEnvRejectsGarbage(t *testing.T) {
	_, err := configFromLookup("HIO", envLookup(map[string]string{
		"HIO_THREADS":      "many",
		"HIO_POLL_TIMEOUT": "soon",
	}))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "HIO_THREADS")
	assert.Contains(t, err.Error(), "HIO_POLL_TIMEOUT")

	_, err = configFromLookup("HIO", envLookup(map[string]string{"HIO_THREADS": "-1"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigStoreUpdate(t *testing.T) {
	cs := NewConfigStore(DefaultConfig())
	var seen []int
	cs.OnReload(func(c Config) { seen = append(seen, c.HighWaterMark) })

	require.NoError(t, cs.Update(func(c *Config) { c.HighWaterMark = 100 }))
	assert.Equal(t, 100, cs.Snapshot().HighWaterMark)
	assert.Equal(t, []int{100}, seen)

	err := cs.Update(func(c *Config) { c.HighWaterMark = 0 })
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 100, cs.Snapshot().HighWaterMark)
	assert.Equal(t, []int{100}, seen)
}

func TestConfigStoreSnapshotIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CPUAffinity = []int{1}
	cs := NewConfigStore(cfg)
	snap := cs.Snapshot()
	snap.CPUAffinity[0] = 9
	assert.Equal(t, []int{1}, cs.Snapshot().CPUAffinity)
}
