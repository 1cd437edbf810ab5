package exec

import (
	"sync/atomic"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/signaling"
	"github.com/yenrab/iron-beam/internal/term"
)

// atomFalseIndex and atomTrueIndex are guaranteed by NewRuntime to be the
// first two atoms interned into any runtime's atom table, so BIF results
// (and literal false/true comparisons) never need a name lookup.
const (
	atomFalseIndex uint32 = 0
	atomTrueIndex  uint32 = 1
)

// Runtime bundles the shared, whole-VM state every process's Engine.Run
// call needs to resolve calls, sends, and spawns against: the module
// registry (C4), the process table (C3), the atom table, and the BIF
// table. It holds no per-process state itself.
type Runtime struct {
	Registry *code.Registry
	Procs    *proctab.Table
	Atoms    *term.AtomTable
	BIFs     *BIFTable

	refCounter atomic.Uint64
}

// NextRef mints a fresh, process-table-wide unique monitor reference. The
// node field is left empty: distribution (tagging a ref with a remote node
// name) is out of scope, so every ref this runtime produces is implicitly
// local.
func (rt *Runtime) NextRef() signaling.Ref {
	return signaling.Ref{Serial: rt.refCounter.Add(1)}
}

// NewRuntime wires a Runtime around the given (already-shared-with-the-
// loader) atom table, registry, and process table. atoms must not yet have
// interned anything, since NewRuntime claims the first two atom indices for
// false/true so BIF results never need a name lookup; in practice this
// means interning atoms is the first thing the host does at boot, before
// loading any module.
func NewRuntime(atoms *term.AtomTable, registry *code.Registry, procs *proctab.Table) *Runtime {
	if idx := atoms.Intern("false"); idx != atomFalseIndex {
		panic("exec: atom table did not assign false the reserved index")
	}
	if idx := atoms.Intern("true"); idx != atomTrueIndex {
		panic("exec: atom table did not assign true the reserved index")
	}

	return &Runtime{
		Registry: registry,
		Procs:    procs,
		Atoms:    atoms,
		BIFs:     NewBIFTable(DefaultBIFs()),
	}
}
