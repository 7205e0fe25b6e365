// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
//
// Raw, descriptor-level TCP socket helpers for the reactor: non-blocking
// socket creation, bind/listen/accept4, reads and writes that never raise
// SIGPIPE, socket options, TCP_INFO and netip address conversion.
//
// Functions return the raw errno (wrapped with context where a caller would
// otherwise lose it) so callers can classify EAGAIN, EINTR, EPIPE and
// ECONNRESET.
package transport
