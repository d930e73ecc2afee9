//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

// New constructs the epoll reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &linuxReactor{epfd: epfd}, nil
}

func epollMask(in Interest) uint32 {
	var m uint32 = unix.EPOLLRDHUP
	if in&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

// Add registers fd. The token is carried in the epoll data field.
func (r *linuxReactor) Add(fd int, token int32, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: token}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify replaces the interest set of fd.
func (r *linuxReactor) Modify(fd int, token int32, in Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: token}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (r *linuxReactor) Remove(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for epoll events and translates them into events.
func (r *linuxReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		e := raw[i].Events
		events[i] = Event{
			Token:    raw[i].Fd,
			Readable: e&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: e&unix.EPOLLOUT != 0,
			Hangup:   e&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
	}
	return n, nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
