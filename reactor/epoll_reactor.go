//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
	"golang.org/x/sys/unix"
)

// epollReactor implements api.Reactor using Linux epoll. It is driven by a
// single goroutine; Wait reuses one raw event slice.
type epollReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

// toEpoll translates the portable mask. Every registration is edge-triggered
// and watches for peer half-close.
func toEpoll(events api.EventType, oneShot bool) uint32 {
	ev := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if events&api.EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if events&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if oneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

func fromEpoll(ev uint32) api.EventType {
	var t api.EventType
	if ev&unix.EPOLLIN != 0 {
		t |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		t |= api.EventWrite
	}
	if ev&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		t |= api.EventHangup
	}
	if ev&unix.EPOLLERR != 0 {
		t |= api.EventError
	}
	return t
}

// Add registers fd with the epoll interest list.
func (r *epollReactor) Add(fd int, events api.EventType, oneShot bool) error {
	ev := unix.EpollEvent{Events: toEpoll(events, oneShot), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Arm re-enables a one-shot descriptor for the given events.
func (r *epollReactor) Arm(fd int, events api.EventType) error {
	ev := unix.EpollEvent{Events: toEpoll(events, true), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Del removes fd from the interest list.
func (r *epollReactor) Del(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks for events on registered descriptors.
// timeoutMs < 0 means block infinitely.
func (r *epollReactor) Wait(events []api.Event, timeoutMs int) (int, error) {
	max := len(events)
	if max > len(r.raw) {
		max = len(r.raw)
	}
	if max == 0 {
		return 0, api.ErrInvalidArgument
	}
	n, err := unix.EpollWait(r.epfd, r.raw[:max], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		events[i] = api.Event{Fd: int(r.raw[i].Fd), Events: fromEpoll(r.raw[i].Events)}
	}
	return n, nil
}

// Close releases the epoll file descriptor.
func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
