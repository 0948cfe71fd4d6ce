// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// Owner records which side of the pipeline currently holds a connection.
type Owner int32

const (
	OwnerNone Owner = iota
	OwnerReactor
	OwnerWorker
)

func (o Owner) String() string {
	switch o {
	case OwnerReactor:
		return "reactor"
	case OwnerWorker:
		return "worker"
	default:
		return "none"
	}
}

// PoolStats is a point-in-time view of an executor.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
	Pending   int   `json:"pending"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}

// ServerStats provides a standard layout for health/statistics reporting.
type ServerStats struct {
	ActiveConns int       `json:"active_conns"`
	Timers      int       `json:"timers"`
	Deferred    int       `json:"deferred"`
	StartedAt   time.Time `json:"started_at"`
}

// ServiceInfo exposes descriptive build- and runtime info for external tools.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}
