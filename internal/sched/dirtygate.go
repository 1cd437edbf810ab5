package sched

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// DirtyClass names a dirty scheduler pool.
type DirtyClass uint8

const (
	DirtyCPU DirtyClass = iota
	DirtyIO
)

func (c DirtyClass) String() string {
	if c == DirtyIO {
		return "io"
	}
	return "cpu"
}

// DefaultDirtyRates are the admission limits spec.md §4.8.4 gives as an
// example: no more than 64 dispatches per 100ms, 512 per second, applied
// independently per dirty category ("cpu"/"io").
func DefaultDirtyRates() map[time.Duration]int {
	return map[time.Duration]int{
		100 * time.Millisecond: 64,
		time.Second:            512,
	}
}

// DirtyGate tracks how fast the normal schedulers hand processes off to
// the dirty pools, wrapping a *catrate.Limiter (teacher monorepo,
// go-catrate) keyed by DirtyClass. A dispatch that the limiter would
// refuse is never dropped — spec.md has no "reject a BIF call" semantics —
// the caller instead queues it on the dirty pool's own run queue exactly
// like any other over-subscribed enqueue; DirtyGate only reports how long
// until the next admission would not have been rate-limited.
// Scheduler.dispatchDirty ignores that report.
type DirtyGate struct {
	limiter *catrate.Limiter
}

// NewDirtyGate creates a gate from the given per-window rates. A nil or
// empty rates map disables limiting entirely (catrate.Limiter's own
// documented behavior for an empty rate set).
func NewDirtyGate(rates map[time.Duration]int) *DirtyGate {
	return &DirtyGate{limiter: catrate.NewLimiter(rates)}
}

// Admit registers a dispatch attempt for class, returning whether it fell
// within the configured rate and, if not, the time at which the next
// attempt would not be limited.
func (g *DirtyGate) Admit(class DirtyClass) (nextAt time.Time, allowed bool) {
	return g.limiter.Allow(class)
}
