// control/debug_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("custom", func() any { return "ok" })

	state := dp.DumpState()
	assert.Equal(t, "ok", state["custom"])
	assert.Positive(t, state["platform.cpus"])
	assert.Contains(t, dp.Names(), "platform.nofile")
	assert.Positive(t, state["platform.memory_total"])

	dp.UnregisterProbe("custom")
	assert.NotContains(t, dp.DumpState(), "custom")
}
