//go:build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server context: listener, epoll reactor, connection table, idle timers,
// worker pool, completion channel and the signal self-pipe.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/internal/concurrency"
	"github.com/momentics/hioload-httpd/internal/transport"
	"github.com/momentics/hioload-httpd/protocol"
	"github.com/momentics/hioload-httpd/reactor"
	"golang.org/x/sys/unix"
)

var ErrAlreadyRunning = errors.New("server already running")

// Version is reported by the service debug probe.
const Version = "0.1.0"

const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// slot is one connection table entry, indexed by descriptor.
type slot struct {
	conn   *protocol.Conn // kept across reuse of the descriptor
	timer  *concurrency.Timer
	open   bool
	parked bool // waiting in the deferred list for queue space
	evict  bool // idle timer fired while a worker held the connection
}

// parkedConn identifies a deferred submission; gen guards against reuse.
type parkedConn struct {
	fd  int
	gen uint64
}

// Server is a single-reactor, multi-worker static file server.
type Server struct {
	cfg *Config
	log *slog.Logger

	ln     *transport.Listener
	rx     api.Reactor
	pool   *concurrency.ThreadPool
	timers *concurrency.TimerHeap

	// reactor-goroutine state
	slots    []slot
	users    int
	gen      uint64
	deferred *queue.Queue // of parkedConn
	stop     bool
	connOpts protocol.Options

	// completion channel from workers
	doneMu     sync.Mutex
	done       []*protocol.Conn
	doneSpare  []*protocol.Conn
	doneFd     int
	doneClosed bool

	// signal self-pipe
	pipeMu     sync.Mutex
	sigR, sigW int
	pipeClosed bool

	metrics *control.Metrics
	probes  *control.DebugProbes
	admin   *control.AdminServer

	// mirrors for probes read off the reactor goroutine
	activeUsers atomic.Int64
	timerCount  atomic.Int64
	parkedCount atomic.Int64
	startedAt   time.Time

	state   atomic.Int32
	stopped chan struct{}
}

// New builds every resource the server needs and binds the listener. Any
// failure releases what was already built.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	for _, o := range opts {
		o(&c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      &c,
		log:      logger.With("component", "reactor"),
		slots:    make([]slot, c.MaxFD),
		deferred: queue.New(),
		doneFd:   -1,
		sigR:     -1,
		sigW:     -1,
		metrics:  control.NewMetrics(),
		probes:   control.NewDebugProbes(),
		stopped:  make(chan struct{}),
		connOpts: protocol.Options{
			DocRoot:         c.DocRoot,
			ReadBufferSize:  c.ReadBufferSize,
			WriteBufferSize: c.WriteBufferSize,
			Logger:          logger.With("component", "conn"),
		},
	}
	s.timers = concurrency.NewTimerHeap(64, s.onIdle)
	s.startedAt = time.Now()

	if err := s.build(logger); err != nil {
		s.release()
		return nil, err
	}
	s.registerProbes()
	return s, nil
}

func (s *Server) build(logger *slog.Logger) error {
	var err error
	if s.rx, err = reactor.NewReactor(); err != nil {
		return err
	}
	if s.doneFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	var p [2]int
	if err = unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("signal pipe: %w", err)
	}
	s.sigR, s.sigW = p[0], p[1]
	if s.ln, err = transport.Listen(s.cfg.Addr, s.cfg.Port, s.cfg.Backlog); err != nil {
		return err
	}
	for _, fd := range []int{s.ln.Fd(), s.sigR, s.doneFd} {
		if err = s.rx.Add(fd, api.EventRead, false); err != nil {
			return fmt.Errorf("register fd=%d: %w", fd, err)
		}
	}
	if s.pool, err = concurrency.NewThreadPool(s.cfg.Workers, s.cfg.MaxRequests, logger); err != nil {
		return err
	}
	if s.cfg.AdminAddr != "" {
		h := control.NewAdminHandler(s.metrics, s.probes)
		if s.admin, err = control.StartAdmin(s.cfg.AdminAddr, h, logger); err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
	}
	return nil
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("pool", func() any { return s.pool.Stats() })
	s.probes.RegisterProbe("server", func() any { return s.Stats() })
	s.probes.RegisterProbe("config", func() any { return s.cfg.String() })
	s.probes.RegisterProbe("service", func() any {
		return api.ServiceInfo{Name: "hioload-httpd", Version: Version, StartedAt: s.startedAt}
	})
}

// Addr is the bound listening address.
func (s *Server) Addr() netip.AddrPort { return s.ln.Addr() }

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *control.Metrics { return s.metrics }

// Probes exposes the debug probe registry.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// AdminAddr is the admin listener address, or "" if disabled.
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr().String()
}

// Stats is a point-in-time snapshot safe to take from any goroutine.
func (s *Server) Stats() api.ServerStats {
	return api.ServerStats{
		ActiveConns: int(s.activeUsers.Load()),
		Timers:      int(s.timerCount.Load()),
		Deferred:    int(s.parkedCount.Load()),
		StartedAt:   s.startedAt,
	}
}

// Run serves until SIGTERM/SIGINT, Shutdown, or ctx cancellation, then tears
// everything down.
func (s *Server) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		if s.state.Load() == stateClosed {
			return api.ErrServerClosed
		}
		return ErrAlreadyRunning
	}
	defer close(s.stopped)

	stopSignals := s.startSignals()
	stopCtx := context.AfterFunc(ctx, func() { s.notify(byte(unix.SIGTERM)) })
	s.log.Info("serving", "addr", s.Addr().String(), "root", s.cfg.DocRoot,
		"workers", s.cfg.Workers, "max_connections", s.cfg.MaxConnections)

	err := s.loop()

	stopCtx()
	stopSignals()
	s.teardown()
	s.state.Store(stateClosed)
	return err
}

// Shutdown asks a running server to stop and waits for Run to finish. A server
// that never ran is released immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.state.CompareAndSwap(stateIdle, stateClosed) {
		s.release()
		close(s.stopped)
		return nil
	}
	s.notify(byte(unix.SIGTERM))
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ api.GracefulShutdown = (*Server)(nil)

// teardown runs on the reactor goroutine after the loop exits: stop
// accepting, drain and join workers, close every connection, then release.
func (s *Server) teardown() {
	_ = s.rx.Del(s.ln.Fd())
	_ = s.ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.log.Warn("worker pool did not drain", "err", err)
	}
	s.drainCompletions()

	leaked := 0
	for fd := range s.slots {
		sl := &s.slots[fd]
		if !sl.open {
			continue
		}
		if sl.conn.Owner() == api.OwnerWorker {
			leaked++
			continue
		}
		s.closeConn(fd)
	}
	if leaked > 0 {
		s.log.Warn("connections still held by workers at exit", "count", leaked)
	}
	s.release()
	s.log.Info("server stopped")
}

// release closes the descriptors owned by the server itself.
func (s *Server) release() {
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.admin.Shutdown(ctx)
		cancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		_ = s.pool.Shutdown(ctx)
		cancel()
	}
	s.pipeMu.Lock()
	if !s.pipeClosed {
		s.pipeClosed = true
		closeFd(s.sigR)
		closeFd(s.sigW)
	}
	s.pipeMu.Unlock()
	s.doneMu.Lock()
	if !s.doneClosed {
		s.doneClosed = true
		closeFd(s.doneFd)
	}
	s.doneMu.Unlock()
	if s.rx != nil {
		_ = s.rx.Close()
	}
}

func closeFd(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}
