package nif

import (
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/gc"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// ExitTerm builds the {native_fault, Kind, Detail} tuple spec.md §4.10/§7
// requires as the exit reason of a process whose native call faulted,
// implementing exec.ExitError so callBif uses it verbatim instead of its
// generic badarg_<name> fallback.
func (e *FaultError) ExitTerm(rt *exec.Runtime, p *process.Process) term.Word {
	elems := []term.Word{
		term.MakeAtom(rt.Atoms.Intern("native_fault")),
		term.MakeAtom(rt.Atoms.Intern(string(e.Kind))),
		term.MakeAtom(rt.Atoms.Intern(e.Detail)),
	}
	need := len(elems) + 1
	if p.Heap.Young.Slack() < need {
		gc.Collect(p, need)
	}
	idx, err := p.HeapAlloc(need)
	if err != nil {
		// Heap pressure so severe even a post-GC alloc for the fault
		// reason itself fails: fall back to a reasonless atom rather
		// than propagate a second error out of an error path.
		return term.MakeAtom(rt.Atoms.Intern("native_fault"))
	}
	return p.Heap.WriteTuple(idx, elems)
}

// AsBIF adapts a loaded native Function into an exec.BIF, wiring Call's
// isolation boundary and dirty-scheduler classification into the normal
// BIF dispatch path so a NIF call is, from the engine's point of view, an
// ordinary (possibly dirty) BIF call.
func AsBIF(name string, arity int, dirty exec.DirtyClass, cost func(args []term.Word) int, fn Function) *exec.BIF {
	return &exec.BIF{
		Name:  name,
		Arity: arity,
		Dirty: dirty,
		Cost:  cost,
		Fn: func(ctx *exec.CallContext, args []term.Word) (term.Word, error) {
			env := NewEnv(ctx.Process, ctx.Runtime.Atoms)
			return Call(fn, env, args)
		},
	}
}
