// File: reactor/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness bit masks shared by channels and the multiplexer.

package reactor

import (
	"errors"
	"strconv"
	"strings"
)

// Events is a readiness bit mask. The values match poll(2)/epoll(7) so the
// Linux poller passes them through unchanged.
type Events uint32

const (
	EventIn    Events = 0x001
	EventPri   Events = 0x002
	EventOut   Events = 0x004
	EventErr   Events = 0x008
	EventHup   Events = 0x010
	EventNval  Events = 0x020
	EventRDHup Events = 0x2000

	noneEvent  Events = 0
	readEvent         = EventIn | EventPri
	writeEvent        = EventOut
)

// ErrRegistration wraps failures of the multiplexer registration table
// (invalid descriptor, table full, out of memory).
var ErrRegistration = errors.New("reactor: channel registration failed")

// String renders the mask as space separated flag names.
func (e Events) String() string {
	var sb strings.Builder
	for _, f := range []struct {
		bit  Events
		name string
	}{
		{EventIn, "IN"},
		{EventPri, "PRI"},
		{EventOut, "OUT"},
		{EventHup, "HUP"},
		{EventRDHup, "RDHUP"},
		{EventErr, "ERR"},
		{EventNval, "NVAL"},
	} {
		if e&f.bit != 0 {
			sb.WriteString(f.name)
			sb.WriteByte(' ')
		}
	}
	return strings.TrimSuffix(sb.String(), " ")
}

func eventsToString(fd int, ev Events) string {
	return strconv.Itoa(fd) + ": " + ev.String()
}
