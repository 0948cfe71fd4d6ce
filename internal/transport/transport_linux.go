// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP listener built on raw descriptors.

package transport

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen queue length.
const DefaultBacklog = 5

// Listener is a bound, listening, non-blocking TCP socket.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen binds ip:port with SO_REUSEADDR and starts listening. Port 0 picks
// an ephemeral port; Addr reports the one chosen.
func Listen(ip string, port, backlog int) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("listen: port %d out of range", port)
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("listen: bad address %q: %w", ip, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if a.Is4() || a.Is4In6() {
		sa = &unix.SockaddrInet4{Port: port, Addr: a.Unmap().As4()}
	} else {
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, Addr: a.As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", netip.AddrPortFrom(a, uint16(port)), err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &Listener{fd: fd, addr: toAddrPort(bound)}, nil
}

// Fd is the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr is the bound address.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Accept takes one pending connection. The new descriptor is non-blocking
// and close-on-exec. unix.EAGAIN means the queue is empty.
func (l *Listener) Accept() (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nfd, toAddrPort(sa), nil
}

// Close closes the listening socket. It is safe to call twice.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	return unix.Close(fd)
}

func toAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	}
	return netip.AddrPort{}
}

// IsTemporary reports accept errors after which the listener stays usable.
func IsTemporary(err error) bool {
	switch err {
	case unix.EINTR, unix.ECONNABORTED, unix.EPROTO, unix.EPERM:
		return true
	}
	return false
}
