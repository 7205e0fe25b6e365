// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU affinity for loop threads. Callers must hold runtime.LockOSThread,
// otherwise the mask lands on whichever thread the goroutine runs on.

package affinity

import (
	"errors"
	"fmt"
)

// ErrInvalidCPU is returned for a CPU index the kernel mask cannot hold.
var ErrInvalidCPU = errors.New("affinity: invalid cpu index")

// SetAffinity pins the calling OS thread to cpuID.
func SetAffinity(cpuID int) error {
	if err := Validate(cpuID); err != nil {
		return err
	}
	return setAffinityPlatform(cpuID)
}

// Validate range-checks cpuID. Whether the CPU is online is left to the
// kernel.
func Validate(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPUs {
		return fmt.Errorf("%w: %d", ErrInvalidCPU, cpuID)
	}
	return nil
}

// Spread maps worker i onto cpus round-robin. An empty list means no
// pinning and yields -1.
func Spread(cpus []int, i int) int {
	if len(cpus) == 0 {
		return -1
	}
	return cpus[i%len(cpus)]
}
