//go:build linux
// +build linux

// File: reactor/timerfd_linux.go
// Author: momentics <momentics@gmail.com>
//
// timerfd(2) helpers for the timer queue.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// minTimerfdDelay is the shortest delay the timer descriptor is armed with.
const minTimerfdDelay = 100 * time.Microsecond

func createTimerfd() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("timerfd create: %w", err)
	}
	return fd, nil
}

// armTimerfd programs a one-shot expiration delay from now.
func armTimerfd(fd int, delay time.Duration) error {
	if delay < minTimerfdDelay {
		delay = minTimerfdDelay
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(delay.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd settime: %w", err)
	}
	return nil
}

// disarmTimerfd stops the timer descriptor.
func disarmTimerfd(fd int) error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd settime: %w", err)
	}
	return nil
}

// readTimerfd drains the expiration counter.
func readTimerfd(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("timerfd read %d bytes instead of 8", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}
