//go:build linux

// File: server/signals.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Self-pipe signal delivery and the periodic sweep alarm.

package server

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// startSignals routes SIGALRM, SIGTERM and SIGINT into the pipe the reactor
// watches, ignores SIGPIPE and arms the first sweep. The returned func undoes it.
func (s *Server) startSignals() func() {
	signal.Ignore(unix.SIGPIPE)
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, unix.SIGALRM, unix.SIGTERM, unix.SIGINT)
	fwd := make(chan struct{})
	go func() {
		defer close(fwd)
		for sig := range ch {
			if n, ok := sig.(syscall.Signal); ok {
				s.notify(byte(n))
			}
		}
	}()
	s.armAlarm()
	return func() {
		s.disarmAlarm()
		signal.Stop(ch)
		close(ch)
		<-fwd
	}
}

// notify writes one signal number into the pipe. A full pipe already holds
// enough wake-ups, so the byte is dropped.
func (s *Server) notify(b byte) {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.pipeClosed || s.sigW < 0 {
		return
	}
	_, _ = unix.Write(s.sigW, []byte{b})
}

func (s *Server) readSignals() {
	var buf [64]byte
	alarm := false
	for {
		n, err := unix.Read(s.sigR, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			break
		}
		for _, b := range buf[:n] {
			switch syscall.Signal(b) {
			case unix.SIGALRM:
				alarm = true
			case unix.SIGTERM, unix.SIGINT:
				if !s.stop {
					s.log.Info("shutdown requested", "signal", unix.SignalName(syscall.Signal(b)))
				}
				s.stop = true
			}
		}
	}
	if alarm && !s.stop {
		s.tick()
	}
}

// tick expires idle connections and re-arms the one-shot alarm.
func (s *Server) tick() {
	before := s.timers.Len()
	fired := s.timers.Tick(time.Now())
	s.timerCount.Store(int64(s.timers.Len()))
	if fired > 0 || before != s.timers.Len() {
		s.log.Debug("timer tick", "fired", fired, "timers", s.timers.Len(), "users", s.users)
	}
	s.armAlarm()
}

func (s *Server) armAlarm() {
	it := unix.Itimerval{Value: unix.NsecToTimeval(s.cfg.TimeSlot.Nanoseconds())}
	if _, err := unix.Setitimer(unix.ItimerReal, it); err != nil {
		s.log.Error("arm alarm", "err", err)
	}
}

func (s *Server) disarmAlarm() {
	_, _ = unix.Setitimer(unix.ItimerReal, unix.Itimerval{})
}
