// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the one-shot readiness reactor driving
// the server loop.

package api

// EventType is a bitmask of readiness conditions.
type EventType uint32

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventHangup
	EventError
)

// Event encapsulates the result of an OS-level readiness notification.
type Event struct {
	Fd     int
	Events EventType
}

// Reactor defines an edge-triggered readiness source. A descriptor added with
// oneShot reports at most one event until it is re-armed with Arm.
type Reactor interface {
	Add(fd int, events EventType, oneShot bool) error
	Arm(fd int, events EventType) error
	Del(fd int) error

	// Wait blocks up to timeoutMs (negative means forever) and fills events.
	Wait(events []Event, timeoutMs int) (int, error)

	Close() error
}
