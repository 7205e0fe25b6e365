//go:build linux
// +build linux

// File: reactor/wakeup_linux.go
// Author: momentics <momentics@gmail.com>
//
// eventfd(2) wakeup descriptor and thread identity.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func threadID() int {
	return unix.Gettid()
}

func createEventfd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("eventfd: %w", err)
	}
	return fd, nil
}

// writeEventfd bumps the eventfd counter. A saturated counter (EAGAIN) still
// leaves the descriptor readable, so it is not an error.
func writeEventfd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("eventfd wrote %d bytes instead of 8", n)
	}
	return nil
}

// readEventfd drains the eventfd counter and returns its value.
func readEventfd(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("eventfd read %d bytes instead of 8", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

func closeFd(fd int) error {
	return unix.Close(fd)
}
