// File: server/callbacks.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application callback types and their defaults.

package server

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-reactor/core/buffer"
	"github.com/momentics/hioload-reactor/internal/logger"
)

// ConnectionCallback reports both connection up and down; check
// Conn.Connected.
type ConnectionCallback func(c *Conn)

// MessageCallback receives the accumulated input. Consumed bytes must be
// retrieved from buf.
type MessageCallback func(c *Conn, buf *buffer.Buffer, receiveTime time.Time)

// WriteCompleteCallback fires when the output buffer drains.
type WriteCompleteCallback func(c *Conn)

// HighWaterMarkCallback fires when buffered output crosses the mark;
// pending is the buffered size after the append.
type HighWaterMarkCallback func(c *Conn, pending int)

// CloseCallback is used by the owning Server to evict the connection.
type CloseCallback func(c *Conn)

func defaultConnectionCallback(c *Conn) {
	logger.Logger("server").Debug("connection",
		slog.String("local", c.LocalAddr().String()),
		slog.String("peer", c.PeerAddr().String()),
		slog.Bool("up", c.Connected()))
}

func defaultMessageCallback(_ *Conn, buf *buffer.Buffer, _ time.Time) {
	buf.RetrieveAll()
}
