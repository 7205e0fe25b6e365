// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package buffer implements the growable byte buffer used for connection
// input and output.
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	|                   |     (CONTENT)    |                  |
//	+-------------------+------------------+------------------+
//	0      <=      readerIndex   <=   writerIndex    <=    len(buf)
//
// A Buffer is not safe for concurrent use.
package buffer

import (
	"bytes"
	"encoding/binary"

	"github.com/bassosimone/runtimex"
)

const (
	// CheapPrepend is the space reserved in front of the content for
	// length headers.
	CheapPrepend = 8
	// InitialSize is the default writable capacity.
	InitialSize = 1024
)

var crlf = []byte("\r\n")

// Buffer is a byte FIFO with cheap prepend.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// New returns a buffer with InitialSize writable bytes.
func New() *Buffer { return NewSize(InitialSize) }

// NewSize returns a buffer with size writable bytes.
func NewSize(size int) *Buffer {
	return &Buffer{
		buf:         make([]byte, CheapPrepend+size),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

func (b *Buffer) ReadableBytes() int    { return b.writerIndex - b.readerIndex }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writerIndex }
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Cap returns the size of the backing array.
func (b *Buffer) Cap() int { return len(b.buf) }

// Peek returns the readable bytes without consuming them. The slice is only
// valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readerIndex:b.writerIndex] }

// FindCRLF returns the offset of the first "\r\n" in the readable bytes, or
// -1.
func (b *Buffer) FindCRLF() int { return bytes.Index(b.Peek(), crlf) }

// FindEOL returns the offset of the first '\n' in the readable bytes, or -1.
func (b *Buffer) FindEOL() int { return bytes.IndexByte(b.Peek(), '\n') }

// Retrieve consumes n readable bytes.
func (b *Buffer) Retrieve(n int) {
	runtimex.Assert(n >= 0)
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes everything and resets the indices.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// Next consumes n bytes and returns a copy of them.
func (b *Buffer) Next(n int) []byte {
	runtimex.Assert(n <= b.ReadableBytes())
	out := make([]byte, n)
	copy(out, b.Peek())
	b.Retrieve(n)
	return out
}

// RetrieveString consumes n bytes as a string.
func (b *Buffer) RetrieveString(n int) string {
	runtimex.Assert(n <= b.ReadableBytes())
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllString consumes everything as a string.
func (b *Buffer) RetrieveAllString() string { return b.RetrieveString(b.ReadableBytes()) }

// Append copies p after the readable bytes, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	b.writerIndex += copy(b.buf[b.writerIndex:], p)
}

// AppendString is Append for strings.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.writerIndex += copy(b.buf[b.writerIndex:], s)
}

// Write implements io.Writer; it never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// EnsureWritable makes room for n more bytes, first by moving the content
// to the front and only then by reallocating.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
	runtimex.Assert(b.WritableBytes() >= n)
}

func (b *Buffer) makeSpace(n int) {
	readable := b.ReadableBytes()
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, max(2*len(b.buf), CheapPrepend+readable+n))
		copy(grown[CheapPrepend:], b.Peek())
		b.buf = grown
	} else {
		copy(b.buf[CheapPrepend:], b.Peek())
	}
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend + readable
}

// Prepend copies p immediately before the readable bytes.
func (b *Buffer) Prepend(p []byte) {
	runtimex.Assert(len(p) <= b.PrependableBytes())
	b.readerIndex -= len(p)
	copy(b.buf[b.readerIndex:], p)
}

// Shrink releases capacity beyond the readable bytes plus reserve.
func (b *Buffer) Shrink(reserve int) {
	nb := NewSize(b.ReadableBytes() + reserve)
	nb.Append(b.Peek())
	*b = *nb
}

// Big-endian integer helpers.

func (b *Buffer) AppendInt64(v int64) { b.Append(binary.BigEndian.AppendUint64(nil, uint64(v))) }
func (b *Buffer) AppendInt32(v int32) { b.Append(binary.BigEndian.AppendUint32(nil, uint32(v))) }
func (b *Buffer) AppendInt16(v int16) { b.Append(binary.BigEndian.AppendUint16(nil, uint16(v))) }
func (b *Buffer) AppendInt8(v int8)   { b.Append([]byte{byte(v)}) }

func (b *Buffer) PeekInt64() int64 {
	runtimex.Assert(b.ReadableBytes() >= 8)
	return int64(binary.BigEndian.Uint64(b.Peek()))
}

func (b *Buffer) PeekInt32() int32 {
	runtimex.Assert(b.ReadableBytes() >= 4)
	return int32(binary.BigEndian.Uint32(b.Peek()))
}

func (b *Buffer) PeekInt16() int16 {
	runtimex.Assert(b.ReadableBytes() >= 2)
	return int16(binary.BigEndian.Uint16(b.Peek()))
}

func (b *Buffer) PeekInt8() int8 {
	runtimex.Assert(b.ReadableBytes() >= 1)
	return int8(b.buf[b.readerIndex])
}

func (b *Buffer) ReadInt64() int64 {
	v := b.PeekInt64()
	b.Retrieve(8)
	return v
}

func (b *Buffer) ReadInt32() int32 {
	v := b.PeekInt32()
	b.Retrieve(4)
	return v
}

func (b *Buffer) ReadInt16() int16 {
	v := b.PeekInt16()
	b.Retrieve(2)
	return v
}

func (b *Buffer) ReadInt8() int8 {
	v := b.PeekInt8()
	b.Retrieve(1)
	return v
}


func (b *Buffer) PrependInt64(v int64) { b.Prepend(binary.BigEndian.AppendUint64(nil, uint64(v))) }
func (b *Buffer) PrependInt32(v int32) { b.Prepend(binary.BigEndian.AppendUint32(nil, uint32(v))) }
func (b *Buffer) PrependInt16(v int16) { b.Prepend(binary.BigEndian.AppendUint16(nil, uint16(v))) }
func (b *Buffer) PrependInt8(v int8)   { b.Prepend([]byte{byte(v)}) }
