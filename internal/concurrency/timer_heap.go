// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Min-heap of absolute idle deadlines with lazy deletion.

package concurrency

import (
	"net/netip"
	"time"

	"github.com/momentics/hioload-httpd/api"
)

// ClientData is the out-of-band identity a timer keeps for its connection.
// It deliberately carries no buffers; Gen tells a reused fd slot apart.
type ClientData struct {
	Fd   int
	Addr netip.AddrPort
	Gen  uint64
}

type timerState uint8

const (
	timerArmed timerState = iota
	timerInert
)

// Timer is one pending idle deadline.
type Timer struct {
	Expire time.Time
	Client ClientData

	state timerState
	index int // position in the heap array, -1 once popped
}

// NewTimer returns an armed timer that is not yet in any heap.
func NewTimer(expire time.Time, cd ClientData) *Timer {
	return &Timer{Expire: expire, Client: cd, index: -1}
}

// Inert reports whether the timer was cancelled.
func (t *Timer) Inert() bool { return t.state == timerInert }

// TimerHeap is an array-backed binary min-heap ordered by Expire.
// It is not safe for concurrent use; the reactor goroutine owns it.
type TimerHeap struct {
	array    []*Timer
	size     int
	onExpire func(ClientData)
}

var _ api.TimerQueue[*Timer] = (*TimerHeap)(nil)

// NewTimerHeap creates an empty heap with room for capacity timers.
func NewTimerHeap(capacity int, onExpire func(ClientData)) *TimerHeap {
	if capacity <= 0 {
		capacity = 1
	}
	return &TimerHeap{
		array:    make([]*Timer, capacity),
		onExpire: onExpire,
	}
}

// NewTimerHeapFrom builds a heap over existing timers in O(n).
func NewTimerHeapFrom(init []*Timer, capacity int, onExpire func(ClientData)) (*TimerHeap, error) {
	if capacity < len(init) || capacity <= 0 {
		return nil, api.ErrInvalidArgument
	}
	h := &TimerHeap{
		array:    make([]*Timer, capacity),
		size:     len(init),
		onExpire: onExpire,
	}
	for i, t := range init {
		h.array[i] = t
		t.index = i
	}
	for i := (h.size - 1) / 2; i >= 0; i-- {
		h.percolateDown(i)
	}
	return h, nil
}

// Add inserts t, doubling the backing array when full.
func (h *TimerHeap) Add(t *Timer) {
	if t == nil {
		return
	}
	if h.size >= len(h.array) {
		h.resize()
	}
	hole := h.size
	h.size++
	h.percolateUp(hole, t)
}

// Del cancels t in place. The slot is reclaimed when it reaches the root.
func (h *TimerHeap) Del(t *Timer) {
	if t == nil {
		return
	}
	t.state = timerInert
}

// Adjust moves t's deadline and restores heap order around its slot.
func (h *TimerHeap) Adjust(t *Timer, expire time.Time) {
	if t == nil {
		return
	}
	t.Expire = expire
	i := t.index
	if i < 0 || i >= h.size || h.array[i] != t {
		return
	}
	if i > 0 && h.array[(i-1)/2].Expire.After(expire) {
		h.percolateUp(i, t)
		return
	}
	h.percolateDown(i)
}

// Top returns the earliest timer or nil.
func (h *TimerHeap) Top() *Timer {
	if h.size == 0 {
		return nil
	}
	return h.array[0]
}

// Peek returns the earliest expiration without mutating the heap.
func (h *TimerHeap) Peek() (time.Time, bool) {
	if h.size == 0 {
		return time.Time{}, false
	}
	return h.array[0].Expire, true
}

// Pop removes the root.
func (h *TimerHeap) Pop() *Timer {
	if h.size == 0 {
		return nil
	}
	top := h.array[0]
	top.index = -1
	h.size--
	last := h.array[h.size]
	h.array[h.size] = nil
	if h.size > 0 {
		h.array[0] = last
		last.index = 0
		h.percolateDown(0)
	}
	return top
}

// Tick fires every armed timer whose deadline is not after now and discards
// inert ones on the way. It returns the number of callbacks invoked.
func (h *TimerHeap) Tick(now time.Time) int {
	fired := 0
	for h.size > 0 {
		top := h.array[0]
		if top.Expire.After(now) {
			break
		}
		// Pop first so the callback may safely add or cancel timers.
		h.Pop()
		if top.state == timerArmed {
			top.state = timerInert
			if h.onExpire != nil {
				h.onExpire(top.Client)
			}
			fired++
		}
	}
	return fired
}

// Len returns the number of resident timers, inert ones included.
func (h *TimerHeap) Len() int { return h.size }

// Empty reports whether the heap holds no timers.
func (h *TimerHeap) Empty() bool { return h.size == 0 }

// Cap returns the current backing capacity.
func (h *TimerHeap) Cap() int { return len(h.array) }

// percolateUp places t at hole or above, shifting later parents down.
func (h *TimerHeap) percolateUp(hole int, t *Timer) {
	for hole > 0 {
		parent := (hole - 1) / 2
		if !h.array[parent].Expire.After(t.Expire) {
			break
		}
		h.array[hole] = h.array[parent]
		h.array[hole].index = hole
		hole = parent
	}
	h.array[hole] = t
	t.index = hole
}

func (h *TimerHeap) percolateDown(hole int) {
	tmp := h.array[hole]
	for hole*2+1 <= h.size-1 {
		child := hole*2 + 1
		if child < h.size-1 && h.array[child+1].Expire.Before(h.array[child].Expire) {
			child++
		}
		if !h.array[child].Expire.Before(tmp.Expire) {
			break
		}
		h.array[hole] = h.array[child]
		h.array[hole].index = hole
		hole = child
	}
	h.array[hole] = tmp
	tmp.index = hole
}

func (h *TimerHeap) resize() {
	grown := make([]*Timer, 2*len(h.array))
	copy(grown, h.array[:h.size])
	h.array = grown
}
