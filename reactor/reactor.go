// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral aliases for the reactor contract.

package reactor

import "github.com/momentics/hioload-httpd/api"

// Re-exported so callers of this package need not import api for the bitmask.
const (
	EventRead   = api.EventRead
	EventWrite  = api.EventWrite
	EventHangup = api.EventHangup
	EventError  = api.EventError
)

// DefaultMaxEvents bounds a single Wait batch.
const DefaultMaxEvents = 1024
