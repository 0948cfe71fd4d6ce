//go:build linux

// File: server/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor loop: readiness dispatch, accept, read/submit, flush, completions.

package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/internal/concurrency"
	"github.com/momentics/hioload-httpd/internal/transport"
	"github.com/momentics/hioload-httpd/protocol"
	"github.com/momentics/hioload-httpd/reactor"
	"golang.org/x/sys/unix"
)

// deferredRetry bounds the wait while submissions are parked.
const deferredRetry = 10 * time.Millisecond

func (s *Server) loop() error {
	events := make([]api.Event, reactor.DefaultMaxEvents)
	for !s.stop {
		timeout := -1
		if s.deferred.Length() > 0 {
			timeout = int(deferredRetry / time.Millisecond)
		}
		n, err := s.rx.Wait(events, timeout)
		if err != nil {
			return fmt.Errorf("reactor wait: %w", err)
		}
		for i := 0; i < n; i++ {
			s.dispatch(events[i])
		}
		s.retryDeferred()
	}
	return nil
}

func (s *Server) dispatch(ev api.Event) {
	switch ev.Fd {
	case s.ln.Fd():
		s.acceptAll()
	case s.sigR:
		s.readSignals()
	case s.doneFd:
		s.drainCompletions()
	default:
		s.serviceConn(ev)
	}
}

func (s *Server) acceptAll() {
	for {
		fd, addr, err := s.ln.Accept()
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if transport.IsTemporary(err) {
				continue
			}
			s.log.Error("accept failed", "err", err)
			return
		}
		if s.users >= s.cfg.MaxConnections || fd >= len(s.slots) {
			s.rejectBusy(fd, addr)
			continue
		}
		s.openConn(fd, addr)
	}
}

// rejectBusy tells the client the server is full and hangs up.
func (s *Server) rejectBusy(fd int, addr netip.AddrPort) {
	_, _ = unix.Write(fd, []byte(protocol.BusyMessage))
	_ = unix.Close(fd)
	s.metrics.Rejected.Inc()
	s.log.Warn("connection limit reached", "peer", addr.String(), "users", s.users, "fd", fd)
}

func (s *Server) openConn(fd int, addr netip.AddrPort) {
	sl := &s.slots[fd]
	if sl.conn == nil {
		sl.conn = protocol.NewConn(&s.connOpts)
	}
	s.gen++
	sl.conn.Init(fd, addr, s.gen, s.complete)
	if err := s.rx.Add(fd, api.EventRead, true); err != nil {
		s.log.Error("register connection", "fd", fd, "err", err)
		_ = sl.conn.Close()
		return
	}
	sl.open = true
	sl.timer = concurrency.NewTimer(time.Now().Add(s.cfg.IdleTimeout),
		concurrency.ClientData{Fd: fd, Addr: addr, Gen: s.gen})
	s.timers.Add(sl.timer)
	s.users++
	s.activeUsers.Store(int64(s.users))
	s.timerCount.Store(int64(s.timers.Len()))
	s.metrics.Accepted.Inc()
	s.metrics.Active.Inc()
	s.log.Debug("accepted", "fd", fd, "peer", addr.String())
}

// closeConn removes a reactor-owned connection from every structure.
func (s *Server) closeConn(fd int) {
	sl := &s.slots[fd]
	if !sl.open {
		return
	}
	_ = s.rx.Del(fd)
	if sl.timer != nil {
		s.timers.Del(sl.timer)
	}
	if err := sl.conn.Close(); err != nil {
		s.log.Debug("close", "fd", fd, "err", err)
	}
	*sl = slot{conn: sl.conn}
	s.users--
	s.activeUsers.Store(int64(s.users))
	s.metrics.Active.Dec()
}

func (s *Server) serviceConn(ev api.Event) {
	fd := ev.Fd
	if fd < 0 || fd >= len(s.slots) {
		return
	}
	sl := &s.slots[fd]
	if !sl.open || sl.parked || sl.conn.Owner() != api.OwnerReactor {
		return
	}
	// A half-closed peer still gets its buffered request answered; Read
	// reports EOF once nothing new arrived.
	switch {
	case ev.Events&api.EventError != 0:
		s.log.Debug("socket error", "fd", fd)
		s.closeConn(fd)
	case ev.Events&api.EventRead != 0:
		s.onReadable(fd, sl)
	case ev.Events&api.EventWrite != 0:
		s.onWritable(fd, sl)
	case ev.Events&api.EventHangup != 0:
		s.log.Debug("peer hung up", "fd", fd)
		s.closeConn(fd)
	}
}

func (s *Server) onReadable(fd int, sl *slot) {
	if err := sl.conn.Read(); err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Debug("read", "fd", fd, "err", err)
		}
		s.closeConn(fd)
		return
	}
	s.refresh(sl)
	s.submit(fd, sl)
}

func (s *Server) onWritable(fd int, sl *slot) {
	c := sl.conn
	status, pending := c.Status(), c.Pending()
	res, err := c.Flush()
	sent := pending - c.Pending()
	switch res {
	case protocol.FlushRetry:
		s.metrics.ObserveResponse(0, sent)
		s.arm(fd, api.EventWrite)
	case protocol.FlushKeepAlive:
		s.metrics.ObserveResponse(status, sent)
		s.refresh(sl)
		if c.Buffered() {
			s.submit(fd, sl)
		} else {
			s.arm(fd, api.EventRead)
		}
	case protocol.FlushClose:
		s.metrics.ObserveResponse(status, sent)
		s.closeConn(fd)
	default:
		s.metrics.ObserveResponse(0, sent)
		s.log.Debug("write", "fd", fd, "err", err)
		s.closeConn(fd)
	}
}

func (s *Server) arm(fd int, events api.EventType) {
	if err := s.rx.Arm(fd, events); err != nil {
		s.log.Error("re-arm", "fd", fd, "err", err)
		s.closeConn(fd)
	}
}

// refresh pushes the idle deadline out by a full timeout.
func (s *Server) refresh(sl *slot) {
	if sl.timer != nil {
		s.timers.Adjust(sl.timer, time.Now().Add(s.cfg.IdleTimeout))
	}
}

// trySubmit hands c to the pool, taking it back if the pool refuses.
func (s *Server) trySubmit(c *protocol.Conn) error {
	if err := c.HandOff(); err != nil {
		return err
	}
	if err := s.pool.Submit(c); err != nil {
		_ = c.Reclaim()
		return err
	}
	s.metrics.QueueDepth.Set(float64(s.pool.Pending()))
	return nil
}

func (s *Server) submit(fd int, sl *slot) {
	err := s.trySubmit(sl.conn)
	switch {
	case err == nil:
	case errors.Is(err, api.ErrQueueFull):
		s.metrics.QueueRejections.Inc()
		sl.parked = true
		s.deferred.Add(parkedConn{fd: fd, gen: sl.conn.Gen()})
		s.parkedCount.Store(int64(s.deferred.Length()))
		s.log.Debug("work queue full, deferring", "fd", fd, "deferred", s.deferred.Length())
	default:
		s.log.Error("submit", "fd", fd, "err", err)
		s.closeConn(fd)
	}
}

// retryDeferred resubmits parked connections in arrival order until the
// queue refuses again.
func (s *Server) retryDeferred() {
	for s.deferred.Length() > 0 {
		p := s.deferred.Peek().(parkedConn)
		sl := &s.slots[p.fd]
		if !sl.open || !sl.parked || sl.conn.Gen() != p.gen {
			s.deferred.Remove()
			continue
		}
		err := s.trySubmit(sl.conn)
		if errors.Is(err, api.ErrQueueFull) {
			break
		}
		s.deferred.Remove()
		sl.parked = false
		if err != nil {
			s.log.Error("deferred submit", "fd", p.fd, "err", err)
			s.closeConn(p.fd)
		}
	}
	s.parkedCount.Store(int64(s.deferred.Length()))
}

// complete runs on a worker goroutine once Process returns. It only queues c
// and wakes the reactor.
func (s *Server) complete(c *protocol.Conn) {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	s.doneMu.Lock()
	defer s.doneMu.Unlock()
	s.done = append(s.done, c)
	if !s.doneClosed {
		_, _ = unix.Write(s.doneFd, one[:])
	}
}

func (s *Server) drainCompletions() {
	var buf [8]byte
	for {
		if _, err := unix.Read(s.doneFd, buf[:]); err != unix.EINTR {
			break
		}
	}
	s.doneMu.Lock()
	batch := s.done
	s.done, s.doneSpare = s.doneSpare[:0], batch
	s.doneMu.Unlock()

	for i, c := range batch {
		batch[i] = nil
		s.metrics.Completed.Inc()
		if err := c.Reclaim(); err != nil {
			s.log.Error("completion", "err", err)
			continue
		}
		fd := c.Fd()
		sl := &s.slots[fd]
		if sl.evict {
			s.metrics.Evictions.Inc()
			s.log.Debug("idle eviction after worker", "fd", fd)
			s.closeConn(fd)
			continue
		}
		switch c.Next() {
		case protocol.NextRead:
			s.arm(fd, api.EventRead)
		case protocol.NextWrite:
			s.arm(fd, api.EventWrite)
		default:
			s.closeConn(fd)
		}
	}
	s.metrics.QueueDepth.Set(float64(s.pool.Pending()))
}

// onIdle is the timer callback; it runs inside Tick on the reactor goroutine.
func (s *Server) onIdle(cd concurrency.ClientData) {
	if cd.Fd < 0 || cd.Fd >= len(s.slots) {
		return
	}
	sl := &s.slots[cd.Fd]
	if !sl.open || sl.conn.Gen() != cd.Gen {
		return
	}
	sl.timer = nil
	if sl.conn.Owner() == api.OwnerWorker {
		sl.evict = true
		return
	}
	s.metrics.Evictions.Inc()
	s.log.Debug("idle eviction", "fd", cd.Fd, "peer", cd.Addr.String())
	s.closeConn(cd.Fd)
}
