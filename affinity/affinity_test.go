// File: affinity/affinity_test.go
// Author: momentics <momentics@gmail.com>

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(0))
	assert.ErrorIs(t, Validate(-1), ErrInvalidCPU)
	assert.ErrorIs(t, Validate(maxCPUs), ErrInvalidCPU)
	assert.ErrorIs(t, SetAffinity(-1), ErrInvalidCPU)
}

func TestSpread(t *testing.T) {
	assert.Equal(t, -1, Spread(nil, 3))
	cpus := []int{2, 5}
	assert.Equal(t, []int{2, 5, 2}, []int{Spread(cpus, 0), Spread(cpus, 1), Spread(cpus, 2)})
}

func TestSetAffinityPinsThread(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// The thread is discarded on exit instead of returning to the
		// scheduler with a narrowed mask.

		allowed, err := Current()
		if !assert.NoError(t, err) || !assert.NotEmpty(t, allowed) {
			return
		}
		target := allowed[len(allowed)-1]

		if !assert.NoError(t, SetAffinity(target)) {
			return
		}
		got, err := Current()
		assert.NoError(t, err)
		assert.Equal(t, []int{target}, got)
	}()
	<-done
}
