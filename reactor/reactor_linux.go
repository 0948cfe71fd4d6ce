//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor factory.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
	"golang.org/x/sys/unix"
)

// NewReactor constructs a new platform-specific Reactor for Linux.
func NewReactor() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{epfd: epfd, raw: make([]unix.EpollEvent, DefaultMaxEvents)}, nil
}
