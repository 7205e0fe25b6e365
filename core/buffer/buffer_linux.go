//go:build linux
// +build linux

// File: core/buffer/buffer_linux.go
// Author: momentics <momentics@gmail.com>
//
// Scatter read from a descriptor.

package buffer

import (
	"github.com/momentics/hioload-reactor/pool"
	"golang.org/x/sys/unix"
)

const extraBufSize = 65536

var extraBufs = pool.NewSyncPool(func() *[extraBufSize]byte { return new([extraBufSize]byte) })

// ReadFd reads once from fd with readv(2) into the writable space and a
// 64 KiB spill area, so a single call drains up to that much more than the
// buffer currently holds without growing it first. A zero count with a nil
// error means end of file.
func (b *Buffer) ReadFd(fd int) (int, error) {
	extra := extraBufs.Get()
	defer extraBufs.Put(extra)

	writable := b.WritableBytes()
	iov := [][]byte{b.buf[b.writerIndex:], extra[:]}
	if writable >= extraBufSize {
		iov = iov[:1]
	}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}
