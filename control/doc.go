// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the reactor
// server.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed config snapshots with validated updates and reload listeners
//   - Prometheus metrics for connections, bytes and loop activity
//   - Named debug probes dumped on demand
package control
