// Package fastatomic provides a lock-free, cache-line-padded state machine
// primitive shared by the scheduler and process-state bitset, grounded on
// the teacher package's FastState (github.com/joeycumines/go-eventloop),
// which uses pure atomic CAS with no mutex and padding to avoid false
// sharing between cores.
package fastatomic

import "sync/atomic"

// State is a small lock-free state machine. Callers define their own
// numeric state constants; State only provides the atomic transition
// primitives.
type State struct {
	_ [64]byte // cache-line padding before the value
	v atomic.Uint64
	_ [56]byte // pad to a full cache line (64 - 8 = 56)
}

// New creates a state machine initialized to initial.
func New(initial uint64) *State {
	s := &State{}
	s.v.Store(initial)
	return s
}

// Load atomically returns the current value.
func (s *State) Load() uint64 {
	return s.v.Load()
}

// Store atomically overwrites the value unconditionally. Reserved for
// irreversible terminal transitions; using it for a transition that should
// be contended (e.g. Running<->Sleeping) is a bug, since it bypasses CAS
// and can race with a concurrent TryTransition.
func (s *State) Store(v uint64) {
	s.v.Store(v)
}

// TryTransition attempts an atomic CAS from `from` to `to`.
func (s *State) TryTransition(from, to uint64) bool {
	return s.v.CompareAndSwap(from, to)
}

// TransitionAny attempts to CAS from any of validFrom to to, returning true
// on the first one that succeeds.
func (s *State) TransitionAny(validFrom []uint64, to uint64) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(from, to) {
			return true
		}
	}
	return false
}

// Bitset is a lock-free atomic bit-flag register, used for the process
// state bitset (runnable, running, waiting, exiting, ...), which unlike the
// scheduler's staged State needs independent flags rather than a single
// enumerated stage.
type Bitset struct {
	v atomic.Uint32
}

// NewBitset creates a bitset initialized to initial.
func NewBitset(initial uint32) *Bitset {
	b := &Bitset{}
	b.v.Store(initial)
	return b
}

// Load atomically returns the current flags.
func (b *Bitset) Load() uint32 {
	return b.v.Load()
}

// Set atomically ORs in the given bits and returns the resulting value.
func (b *Bitset) Set(bits uint32) uint32 {
	for {
		old := b.v.Load()
		next := old | bits
		if old == next || b.v.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Clear atomically ANDs out the given bits and returns the resulting value.
func (b *Bitset) Clear(bits uint32) uint32 {
	for {
		old := b.v.Load()
		next := old &^ bits
		if old == next || b.v.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Has reports whether every bit in bits is currently set.
func (b *Bitset) Has(bits uint32) bool {
	return b.v.Load()&bits == bits
}

// CompareAndSwap exposes a raw CAS for multi-bit transitions that must be
// atomic as a unit (e.g. clearing `runnable|in-run-queue` while setting
// `running`).
func (b *Bitset) CompareAndSwap(old, new uint32) bool {
	return b.v.CompareAndSwap(old, new)
}
