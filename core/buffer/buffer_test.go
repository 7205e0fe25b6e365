// File: core/buffer/buffer_test.go
// Author: momentics <momentics@gmail.com>

package buffer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAppendRetrieve(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, InitialSize, b.WritableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())

	b.AppendString(strings.Repeat("x", 200))
	assert.Equal(t, 200, b.ReadableBytes())
	assert.Equal(t, InitialSize-200, b.WritableBytes())

	s := b.RetrieveString(50)
	assert.Len(t, s, 50)
	assert.Equal(t, 150, b.ReadableBytes())
	assert.Equal(t, CheapPrepend+50, b.PrependableBytes())

	b.Retrieve(150)
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestGrow(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 400))
	b.Retrieve(50)
	b.AppendString(strings.Repeat("z", 1000))
	assert.Equal(t, 1350, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assert.Equal(t, strings.Repeat("y", 350)+strings.Repeat("z", 1000), b.RetrieveAllString())
}

func TestMoveInsteadOfGrow(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 800))
	b.Retrieve(500)
	before := b.Cap()
	b.AppendString(strings.Repeat("z", 300))
	assert.Equal(t, before, b.Cap())
	assert.Equal(t, 600, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestPrependAndInts(t *testing.T) {
	b := New()
	b.AppendString("ping")
	b.PrependInt32(int32(b.ReadableBytes()))
	assert.Equal(t, CheapPrepend-4, b.PrependableBytes())
	assert.Equal(t, int32(4), b.ReadInt32())
	assert.Equal(t, "ping", b.RetrieveAllString())

	b.AppendInt64(-3)
	b.AppendInt16(513)
	b.AppendInt8(-1)
	assert.Equal(t, int64(-3), b.ReadInt64())
	assert.Equal(t, int16(513), b.ReadInt16())
	assert.Equal(t, int8(-1), b.ReadInt8())
	assert.Panics(t, func() { b.PeekInt32() })
}

func TestGrowAfterPrepend(t *testing.T) {
	b := NewSize(16)
	b.AppendString("abcd")
	b.PrependInt32(4)
	b.AppendString(strings.Repeat("q", 64))
	assert.Equal(t, int32(4), b.ReadInt32())
	assert.Equal(t, "abcd"+strings.Repeat("q", 64), b.RetrieveAllString())
}

func TestFind(t *testing.T) {
	b := New()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\n")
	assert.Equal(t, 14, b.FindCRLF())
	assert.Equal(t, 15, b.FindEOL())
	b.RetrieveAll()
	assert.Equal(t, -1, b.FindCRLF())
}

func TestShrinkAndNext(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("a", 2000))
	b.Retrieve(1990)
	b.Shrink(0)
	assert.Equal(t, CheapPrepend+10, b.Cap())
	assert.Equal(t, bytes.Repeat([]byte("a"), 10), b.Next(10))
}

func TestReadFdSpillsIntoExtra(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	payload := bytes.Repeat([]byte("0123456789"), 500)
	_, err = unix.Write(fds[1], payload)
	require.NoError(t, err)

	b := NewSize(64)
	n, err := b.ReadFd(fds[0])
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, b.Peek())

	require.NoError(t, unix.Shutdown(fds[1], unix.SHUT_WR))
	n, err = b.ReadFd(fds[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
