// Package nif implements the native-extension sandbox (C10): loading a
// plugin.Plugin (or compiling one from source), verifying it was built
// without cgo, and running every call through a per-call isolation
// boundary so a misbehaving native function can only ever fault its own
// calling process, never the runtime.
package nif

import (
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// Env is the only surface through which a native function may touch the
// calling process: its heap (for allocating result terms) and the shared
// atom table (for interning result atoms). A Function never sees the
// process struct itself.
type Env struct {
	proc  *process.Process
	atoms *term.AtomTable
}

// NewEnv builds an Env scoped to one call.
func NewEnv(proc *process.Process, atoms *term.AtomTable) *Env {
	return &Env{proc: proc, atoms: atoms}
}

// Alloc reserves n words on the calling process's young generation,
// mirroring process.Process.HeapAlloc.
func (e *Env) Alloc(n int) (int, error) {
	return e.proc.HeapAlloc(n)
}

// Slack reports how many words remain before the next Alloc would fail,
// letting a native function decide whether to ask the caller to GC first.
func (e *Env) Slack() int {
	return e.proc.Heap.Young.Slack()
}

// WriteTuple writes elems as a tuple starting at idx (as returned by
// Alloc) and returns the boxed tuple term.
func (e *Env) WriteTuple(idx int, elems []term.Word) term.Word {
	return e.proc.Heap.WriteTuple(idx, elems)
}

// MakeAtom interns name and returns the atom term, for native functions
// that need to return a status atom (e.g. ok, error).
func (e *Env) MakeAtom(name string) term.Word {
	return term.MakeAtom(e.atoms.Intern(name))
}

// RetainBinary registers an off-heap binary with the calling process so
// its lifetime is tied to the process's own refcounting, per spec.md's
// binary ownership rules.
func (e *Env) RetainBinary(b *heap.RefcBinary) {
	e.proc.RetainBinary(b)
}
