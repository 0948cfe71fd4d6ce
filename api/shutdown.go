// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components with an ordered stop sequence.
type GracefulShutdown interface {
	// Shutdown stops the component and releases its resources, waiting at most
	// until ctx is done.
	Shutdown(ctx context.Context) error
}
