//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) multiplexer, level-triggered.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/bassosimone/runtimex"
	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollPoller implements Poller using Linux epoll.
type epollPoller struct {
	owner    *EventLoop
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPoller(owner *EventLoop) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{
		owner:    owner,
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

// Poll blocks in epoll_wait for at most timeout.
func (p *epollPoller) Poll(timeout time.Duration, active []*Channel) (time.Time, []*Channel, error) {
	n, err := unix.EpollWait(p.epfd, p.events, int(timeout/time.Millisecond))
	now := p.owner.clock.Now()
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return now, active, nil
		}
		return now, active, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		runtimex.Assert(ok && ch.index == indexAdded)
		ch.setRevents(Events(ev.Events))
		active = append(active, ch)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, 2*n)
	}
	return now, active, nil
}

// UpdateChannel registers or re-arms the channel's interest set.
func (p *epollPoller) UpdateChannel(ch *Channel) error {
	p.owner.AssertInLoopThread()
	fd := ch.fd
	switch ch.index {
	case indexNew, indexDeleted:
		if ch.index == indexNew {
			runtimex.Assert(p.channels[fd] == nil)
			p.channels[fd] = ch
		} else {
			runtimex.Assert(p.channels[fd] == ch)
		}
		if err := p.ctl(unix.EPOLL_CTL_ADD, ch); err != nil {
			if ch.index == indexNew {
				delete(p.channels, fd)
			}
			return err
		}
		ch.index = indexAdded
	default:
		runtimex.Assert(p.channels[fd] == ch && ch.index == indexAdded)
		if ch.IsNoneEvent() {
			if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
				return err
			}
			ch.index = indexDeleted
			return nil
		}
		return p.ctl(unix.EPOLL_CTL_MOD, ch)
	}
	return nil
}

// RemoveChannel drops a channel with an empty interest set.
func (p *epollPoller) RemoveChannel(ch *Channel) error {
	p.owner.AssertInLoopThread()
	fd := ch.fd
	runtimex.Assert(p.channels[fd] == ch)
	runtimex.Assert(ch.IsNoneEvent())
	runtimex.Assert(ch.index == indexAdded || ch.index == indexDeleted)
	delete(p.channels, fd)
	var err error
	if ch.index == indexAdded {
		err = p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	ch.index = indexNew
	return err
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	p.owner.AssertInLoopThread()
	got, ok := p.channels[ch.fd]
	return ok && got == ch
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func (p *epollPoller) ctl(op int, ch *Channel) error {
	ev := unix.EpollEvent{
		Events: uint32(ch.events),
		Fd:     int32(ch.fd),
	}
	if err := unix.EpollCtl(p.epfd, op, ch.fd, &ev); err != nil {
		return fmt.Errorf("%w: epoll_ctl %s fd=%d: %w", ErrRegistration, opName(op), ch.fd, err)
	}
	return nil
}

func opName(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	default:
		return "unknown"
	}
}
