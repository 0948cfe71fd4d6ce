// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named debug probes and their JSON dump.

package control

import (
	"sync"

	"github.com/goccy/go-json"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook. Probes run on the caller's
// goroutine and must be safe to call concurrently with the reactor.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// MarshalJSON renders the current probe outputs.
func (dp *DebugProbes) MarshalJSON() ([]byte, error) {
	return json.Marshal(dp.DumpState())
}
