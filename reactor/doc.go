// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the edge-triggered, one-shot readiness reactor used
// by the server loop. Only the Linux epoll backend is implemented.
package reactor
