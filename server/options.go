// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"
	"time"
)

// Option customizes server initialization.
type Option func(*Config)

// WithLogger sets the structured logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithAddr sets the bind address and port.
func WithAddr(ip string, port int) Option {
	return func(c *Config) {
		c.Addr = ip
		c.Port = port
	}
}

// WithDocRoot sets the directory files are served from.
func WithDocRoot(root string) Option {
	return func(c *Config) {
		c.DocRoot = root
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMaxRequests sets the work queue capacity.
func WithMaxRequests(n int) Option {
	return func(c *Config) {
		c.MaxRequests = n
	}
}

// WithMaxConnections caps simultaneously open connections.
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithTimeSlot sets the sweep period; the idle timeout becomes three slots.
func WithTimeSlot(d time.Duration) Option {
	return func(c *Config) {
		c.TimeSlot = d
		c.IdleTimeout = 3 * d
	}
}

// WithIdleTimeout overrides the inactivity bound independently of the slot.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithAdminAddr enables the admin listener.
func WithAdminAddr(addr string) Option {
	return func(c *Config) {
		c.AdminAddr = addr
	}
}

// WithBacklog sets the listen queue length.
func WithBacklog(n int) Option {
	return func(c *Config) {
		c.Backlog = n
	}
}
