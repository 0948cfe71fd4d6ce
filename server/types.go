// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/control"
	"github.com/momentics/hioload-httpd/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Addr            string        // bind address, e.g. "0.0.0.0"
	Port            int           // bind port, 0 for ephemeral
	DocRoot         string        // directory files are served from
	Workers         int           // worker goroutines
	MaxRequests     int           // work queue capacity
	MaxConnections  int           // open connections before the busy reply
	MaxFD           int           // connection table size; higher descriptors get the busy reply
	ReadBufferSize  int           // per-connection request buffer
	WriteBufferSize int           // per-connection header buffer
	TimeSlot        time.Duration // sweep period
	IdleTimeout     time.Duration // inactivity before eviction
	Backlog         int           // listen queue length
	AdminAddr       string        // optional /metrics and /debug/state listener
	ShutdownTimeout time.Duration // bound on draining the worker pool
	Logger          *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "0.0.0.0",
		Port:            0,
		DocRoot:         "./",
		Workers:         8,
		MaxRequests:     10000,
		MaxConnections:  65536,
		MaxFD:           65536,
		ReadBufferSize:  protocol.DefaultReadBufferSize,
		WriteBufferSize: protocol.DefaultWriteBufferSize,
		TimeSlot:        5 * time.Second,
		IdleTimeout:     15 * time.Second,
		Backlog:         5,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ApplyFile overlays the keys set in fc.
func (c *Config) ApplyFile(fc *control.FileConfig) {
	if fc == nil {
		return
	}
	if fc.Addr != "" {
		c.Addr = fc.Addr
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.DocRoot != "" {
		c.DocRoot = fc.DocRoot
	}
	if fc.Workers != 0 {
		c.Workers = fc.Workers
	}
	if fc.MaxRequests != 0 {
		c.MaxRequests = fc.MaxRequests
	}
	if fc.MaxConnections != 0 {
		c.MaxConnections = fc.MaxConnections
	}
	if fc.MaxFD != 0 {
		c.MaxFD = fc.MaxFD
	}
	if fc.ReadBufferSize != 0 {
		c.ReadBufferSize = fc.ReadBufferSize
	}
	if fc.WriteBufferSize != 0 {
		c.WriteBufferSize = fc.WriteBufferSize
	}
	if d := fc.TimeSlotDuration(); d != 0 {
		c.TimeSlot = d
		if fc.IdleTimeoutDuration() == 0 {
			c.IdleTimeout = 3 * d
		}
	}
	if d := fc.IdleTimeoutDuration(); d != 0 {
		c.IdleTimeout = d
	}
	if fc.AdminAddr != "" {
		c.AdminAddr = fc.AdminAddr
	}
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	bad := func(field string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid server config").
			WithContext(field, v).Wrap(api.ErrInvalidArgument)
	}
	switch {
	case c.Workers <= 0:
		return bad("workers", c.Workers)
	case c.MaxRequests <= 0:
		return bad("max_requests", c.MaxRequests)
	case c.MaxFD <= 0:
		return bad("max_fd", c.MaxFD)
	case c.MaxConnections <= 0:
		return bad("max_connections", c.MaxConnections)
	case c.ReadBufferSize <= 0:
		return bad("read_buffer_size", c.ReadBufferSize)
	case c.WriteBufferSize <= 0:
		return bad("write_buffer_size", c.WriteBufferSize)
	case c.TimeSlot <= 0:
		return bad("time_slot", c.TimeSlot)
	case c.IdleTimeout <= 0:
		return bad("idle_timeout", c.IdleTimeout)
	case c.Port < 0 || c.Port > 65535:
		return bad("port", c.Port)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("%s:%d root=%s workers=%d queue=%d conns=%d slot=%s idle=%s",
		c.Addr, c.Port, c.DocRoot, c.Workers, c.MaxRequests, c.MaxConnections, c.TimeSlot, c.IdleTimeout)
}
