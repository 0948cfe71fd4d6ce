//go:build linux

package transport

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestListenAccept(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Port() == 0 {
		t.Fatal("ephemeral port not reported")
	}

	if _, _, err := ln.Accept(); err != unix.EAGAIN {
		t.Fatalf("Accept on empty queue = %v, want EAGAIN", err)
	}

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fd, addr, err := ln.Accept()
		if err == nil {
			defer unix.Close(fd)
			if addr.Addr().String() != "127.0.0.1" {
				t.Fatalf("peer addr = %v", addr)
			}
			flags, _ := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
			if flags&unix.O_NONBLOCK == 0 {
				t.Fatal("accepted socket is blocking")
			}
			break
		}
		if err != unix.EAGAIN || time.Now().After(deadline) {
			t.Fatalf("Accept: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestListenRejectsBadInput(t *testing.T) {
	if _, err := Listen("not-an-ip", 80, 0); err == nil {
		t.Fatal("bad address accepted")
	}
	if _, err := Listen("127.0.0.1", 70000, 0); err == nil {
		t.Fatal("bad port accepted")
	}
}
