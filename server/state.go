// File: server/state.go
// Author: momentics <momentics@gmail.com>

package server

// State is a connection lifecycle stage. Transitions only move forward:
// Connecting, Connected, Disconnecting, Disconnected.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "unknown state"
	}
}
