package concurrency

import (
	"math/rand"
	"testing"
	"time"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

func TestTimerHeapOrdering(t *testing.T) {
	h := NewTimerHeap(2, nil)
	for i, sec := range []int{5, 1, 3} {
		h.Add(NewTimer(at(sec), ClientData{Fd: i}))
	}

	if got, _ := h.Peek(); !got.Equal(at(1)) {
		t.Fatalf("Peek = %v, want expire 1", got)
	}
	h.Pop()
	if got, _ := h.Peek(); !got.Equal(at(3)) {
		t.Fatalf("Peek after pop = %v, want expire 3", got)
	}
	h.Pop()
	if got, _ := h.Peek(); !got.Equal(at(5)) {
		t.Fatalf("Peek after second pop = %v, want expire 5", got)
	}
	if h.Cap() != 4 {
		t.Errorf("Cap = %d, want doubling to 4", h.Cap())
	}
}

func TestTimerHeapLazyDelete(t *testing.T) {
	var fired []int
	h := NewTimerHeap(4, func(cd ClientData) { fired = append(fired, cd.Fd) })

	a := NewTimer(at(1), ClientData{Fd: 1})
	b := NewTimer(at(2), ClientData{Fd: 2})
	c := NewTimer(at(10), ClientData{Fd: 3})
	h.Add(a)
	h.Add(b)
	h.Add(c)

	h.Del(a)
	if h.Len() != 3 {
		t.Fatalf("lazy delete changed size to %d", h.Len())
	}
	if !a.Inert() {
		t.Fatal("deleted timer is not inert")
	}

	if n := h.Tick(at(5)); n != 1 {
		t.Fatalf("Tick fired %d callbacks, want 1", n)
	}
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired = %v, want [2]", fired)
	}
	if h.Len() != 1 || h.Top() != c {
		t.Fatalf("heap should hold only the future timer, len=%d", h.Len())
	}
}

func TestTimerHeapTickStopsAtFuture(t *testing.T) {
	count := 0
	h := NewTimerHeap(8, func(ClientData) { count++ })
	for _, sec := range []int{4, 2, 9, 7, 1} {
		h.Add(NewTimer(at(sec), ClientData{}))
	}
	h.Tick(at(4))
	if count != 3 {
		t.Fatalf("fired %d, want 3", count)
	}
	if got, _ := h.Peek(); !got.Equal(at(7)) {
		t.Fatalf("root = %v, want 7", got)
	}
	// A second tick at the same instant is a no-op.
	if n := h.Tick(at(4)); n != 0 {
		t.Fatalf("second tick fired %d", n)
	}
}

func TestTimerHeapAdjustResifts(t *testing.T) {
	var fired []int
	h := NewTimerHeap(4, func(cd ClientData) { fired = append(fired, cd.Fd) })
	early := NewTimer(at(1), ClientData{Fd: 1})
	late := NewTimer(at(6), ClientData{Fd: 2})
	h.Add(early)
	h.Add(late)

	h.Adjust(early, at(20))
	if h.Top() != late {
		t.Fatal("refreshed timer still at root")
	}
	h.Tick(at(10))
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired = %v, want [2]", fired)
	}

	h.Adjust(early, at(11))
	h.Tick(at(11))
	if len(fired) != 2 || fired[1] != 1 {
		t.Fatalf("fired = %v, want [2 1]", fired)
	}
}

func TestTimerHeapRandomInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := NewTimerHeap(1, nil)
	timers := make([]*Timer, 0, 200)
	for i := 0; i < 200; i++ {
		tm := NewTimer(at(rng.Intn(1000)), ClientData{Fd: i})
		timers = append(timers, tm)
		h.Add(tm)
	}
	for i := 0; i < 50; i++ {
		h.Adjust(timers[rng.Intn(len(timers))], at(rng.Intn(1000)))
	}
	checkHeap(t, h)

	prev := time.Time{}
	for !h.Empty() {
		top := h.Pop()
		if top.Expire.Before(prev) {
			t.Fatalf("pop order violated: %v after %v", top.Expire, prev)
		}
		prev = top.Expire
	}
}

func TestNewTimerHeapFrom(t *testing.T) {
	init := []*Timer{
		NewTimer(at(8), ClientData{}),
		NewTimer(at(3), ClientData{}),
		NewTimer(at(5), ClientData{}),
		NewTimer(at(1), ClientData{}),
	}
	h, err := NewTimerHeapFrom(init, 8, nil)
	if err != nil {
		t.Fatalf("NewTimerHeapFrom: %v", err)
	}
	checkHeap(t, h)
	if got, _ := h.Peek(); !got.Equal(at(1)) {
		t.Fatalf("root = %v", got)
	}
	if _, err := NewTimerHeapFrom(init, 2, nil); err == nil {
		t.Fatal("expected error for capacity below size")
	}
}

func checkHeap(t *testing.T, h *TimerHeap) {
	t.Helper()
	for i := 1; i < h.size; i++ {
		parent := (i - 1) / 2
		if h.array[parent].Expire.After(h.array[i].Expire) {
			t.Fatalf("heap invariant broken at %d", i)
		}
		if h.array[i].index != i {
			t.Fatalf("stale index at %d: %d", i, h.array[i].index)
		}
	}
}
