package heap

import "sync/atomic"

// RefcBinary is an off-heap, reference-counted binary buffer. Its data is
// immutable once constructed; ownership is shared by atomic reference
// count across every process heap (and mailbox-in-flight fragment) holding
// a refc-binary term that points at it, freed when the count reaches zero.
type RefcBinary struct {
	Data []byte
	refs atomic.Int64
}

// NewRefcBinary creates a binary with an initial reference count of one,
// owned by the caller.
func NewRefcBinary(data []byte) *RefcBinary {
	b := &RefcBinary{Data: data}
	b.refs.Store(1)
	return b
}

// Retain increments the reference count, called when a new process becomes
// an owner: a message send copying the binary's term into another process,
// or process.RetainBinary. A GC copy within one process does not retain.
func (b *RefcBinary) Retain() {
	b.refs.Add(1)
}

// Release decrements the reference count and reports whether it reached
// zero (in which case the caller should drop its last reference and let the
// buffer be collected by the Go garbage collector; iron-beam does not
// implement a separate free-list for off-heap memory, since Go's own
// allocator already owns the backing array).
func (b *RefcBinary) Release() bool {
	return b.refs.Add(-1) == 0
}

// RefCount returns the current reference count, for diagnostics and tests.
func (b *RefcBinary) RefCount() int64 {
	return b.refs.Load()
}

// SubBinary is a window over a parent RefcBinary (or another SubBinary's
// ultimate parent), keeping the parent reachable so the GC must trace
// through it rather than free the backing buffer early.
type SubBinary struct {
	Parent     *RefcBinary
	Offset, Ln int
}

// Bytes returns the sub-binary's window into the parent's data.
func (s *SubBinary) Bytes() []byte {
	return s.Parent.Data[s.Offset : s.Offset+s.Ln]
}
