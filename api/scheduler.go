// Package api
// Author: momentics
//
// Timer queue contract for idle-connection expiry.

package api

import "time"

// TimerQueue orders idle deadlines and fires the expired ones on Tick.
type TimerQueue[T any] interface {
	Add(t T)
	Del(t T)
	Adjust(t T, expire time.Time)
	Tick(now time.Time) int
	Peek() (time.Time, bool)
	Len() int
}
