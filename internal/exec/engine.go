// Package exec implements the bytecode execution engine (C6): a
// reduction-counted dispatch loop over a fixed-width instruction set,
// cooperating with the per-process generational collector (internal/gc) at
// allocating instructions and with the module registry (internal/code) for
// cross-module calls.
package exec

import (
	"fmt"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/gc"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/signaling"
	"github.com/yenrab/iron-beam/internal/term"
)

// Engine runs processes against a shared Runtime.
type Engine struct {
	Runtime *Runtime
}

// NewEngine creates an Engine bound to rt.
func NewEngine(rt *Runtime) *Engine {
	return &Engine{Runtime: rt}
}

// Run dispatches instructions for p until its reduction budget is
// exhausted (VerdictYield), it parks on a receive (VerdictBlock), it
// terminates (VerdictExit), or it reaches a dirty-classified BIF call
// (VerdictDirty). It is the normal scheduler's entry point into a
// process's execution.
func (e *Engine) Run(p *process.Process, budget int) Verdict {
	return e.run(p, budget, false)
}

// RunDirty is Run's dirty-scheduler counterpart: dirty-classified BIF
// calls execute inline instead of bouncing back out as VerdictDirty. Only
// a dirty scheduler thread may call this — it is the other half of the
// migration VerdictDirty requests.
func (e *Engine) RunDirty(p *process.Process, budget int) Verdict {
	return e.run(p, budget, true)
}

func (e *Engine) run(p *process.Process, budget int, dirty bool) Verdict {
	p.Reductions = budget

	if p.State.Has(process.Exiting) {
		// A linked, non-trapping peer was marked for termination by
		// another process's exit cascade (internal/sched's terminate)
		// before this dispatch was even picked up; honor it without
		// running any more of its bytecode.
		return VerdictExit
	}

	if p.CurrentCode == nil {
		if !e.enterInitialCall(p) {
			return VerdictExit
		}
	}

	for {
		if p.Reductions <= 0 {
			return VerdictYield
		}

		e.drainSignals(p)

		mod, ok := p.CurrentCode.(*code.Module)
		if !ok || mod == nil {
			p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("undefined_code"))
			return VerdictExit
		}

		instr, ok := DecodeInstr(mod.Code, p.IP)
		if !ok {
			p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("pc_out_of_range"))
			return VerdictExit
		}

		verdict, terminal := e.step(p, mod, instr, dirty)
		p.Reductions--

		if terminal {
			return verdict
		}
	}
}

// enterInitialCall resolves a freshly spawned process's (module, function,
// arity) entry point against the current registry, setting CurrentCode and
// IP. It reports false (terminating the process) if the module or export
// does not exist.
func (e *Engine) enterInitialCall(p *process.Process) bool {
	mod, ok := e.Runtime.Registry.Current(p.Module)
	if !ok {
		p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("undef"))
		return false
	}
	entry, ok := mod.EntryPoint(p.Function, p.Arity)
	if !ok {
		p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("undef"))
		return false
	}
	p.CurrentCode = mod
	p.IP = entry
	return true
}

// step executes a single instruction, returning a Verdict only meaningful
// when terminal is true (the caller should stop dispatching and return it
// to the scheduler).
func (e *Engine) step(p *process.Process, mod *code.Module, instr Instr, dirty bool) (verdict Verdict, terminal bool) {
	switch instr.Op {
	case OpHalt:
		p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("normal"))
		return VerdictExit, true

	case OpMoveImmSmall:
		p.Registers[instr.A] = term.MakeSmallInt(int64(instr.B))
		p.IP++

	case OpMoveAtom:
		globalIdx, err := mod.AtomIndex(uint32(instr.B))
		if err != nil {
			return e.fail(p, "bad_atom_operand")
		}
		p.Registers[instr.A] = term.MakeAtom(globalIdx)
		p.IP++

	case OpMoveNil:
		p.Registers[instr.A] = term.Nil
		p.IP++

	case OpMoveReg:
		p.Registers[instr.A] = p.Registers[instr.B]
		p.IP++

	case OpAllocTuple2:
		if !e.ensureHeap(p, 3) {
			return VerdictYield, false // GC ran; retry same instruction next reduction
		}
		idx, err := p.HeapAlloc(3)
		if err != nil {
			return e.fail(p, "heap_alloc_failed")
		}
		p.Registers[instr.A] = p.Heap.WriteTuple(idx, []term.Word{p.Registers[instr.B], p.Registers[instr.C]})
		p.IP++

	case OpAllocCons:
		if !e.ensureHeap(p, 3) {
			return VerdictYield, false
		}
		idx, err := p.HeapAlloc(3)
		if err != nil {
			return e.fail(p, "heap_alloc_failed")
		}
		p.Registers[instr.A] = p.Heap.WriteCons(idx, p.Registers[instr.B], p.Registers[instr.C])
		p.IP++

	case OpMoveLiteral:
		if instr.B < 0 || int(instr.B) >= len(mod.Literals.Words) {
			return e.fail(p, "bad_literal_operand")
		}
		p.Registers[instr.A] = mod.Literals.Words[instr.B]
		p.IP++

	case OpGetElement:
		words, off, ok := e.resolveWords(p, mod, p.Registers[instr.B])
		if !ok {
			return e.fail(p, "badarg")
		}
		kind, size := term.DecodeHeader(words[off])
		if kind != term.KindTuple || instr.C < 1 || uint32(instr.C) > size {
			return e.fail(p, "badarg")
		}
		p.Registers[instr.A] = words[off+1+int(instr.C-1)]
		p.IP++

	case OpGetHead:
		words, off, ok := e.resolveWords(p, mod, p.Registers[instr.B])
		if !ok {
			return e.fail(p, "badarg")
		}
		if kind, _ := term.DecodeHeader(words[off]); kind != term.KindCons {
			return e.fail(p, "badarg")
		}
		p.Registers[instr.A] = words[off+1]
		p.IP++

	case OpGetTail:
		words, off, ok := e.resolveWords(p, mod, p.Registers[instr.B])
		if !ok {
			return e.fail(p, "badarg")
		}
		if kind, _ := term.DecodeHeader(words[off]); kind != term.KindCons {
			return e.fail(p, "badarg")
		}
		p.Registers[instr.A] = words[off+2]
		p.IP++

	case OpTestEqJump:
		if p.Registers[instr.B] == p.Registers[instr.C] {
			p.IP = int(instr.A)
		} else {
			p.IP++
		}

	case OpJump:
		p.IP = int(instr.A)

	case OpJumpIfFalseAtom:
		if p.Registers[instr.B] == term.MakeAtom(atomFalseIndex) {
			p.IP = int(instr.A)
		} else {
			p.IP++
		}

	case OpCallLocal:
		p.Frames = append(p.Frames, process.Frame{Code: mod, ReturnIP: p.IP + 1})
		p.IP = int(instr.A)

	case OpCallExt:
		return e.callExt(p, mod, instr)

	case OpCallFun:
		return e.callFun(p, mod, instr)

	case OpReturn:
		if len(p.Frames) == 0 {
			p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern("normal"))
			return VerdictExit, true
		}
		frame := p.Frames[len(p.Frames)-1]
		p.Frames = p.Frames[:len(p.Frames)-1]
		p.CurrentCode = frame.Code
		p.IP = frame.ReturnIP

	case OpSend:
		return e.send(p, instr)

	case OpReceiveStart:
		p.IP++

	case OpReceiveMatchAtom:
		return e.receiveMatchAtom(p, mod, instr)

	case OpReceiveWait:
		p.State.Set(process.Waiting)
		return VerdictBlock, true

	case OpSpawn:
		return e.spawn(p, mod, instr)

	case OpLink:
		target := term.PidSerial(p.Registers[instr.A])
		p.RegisterLink(target)
		if peer, ok := e.Runtime.Procs.Lookup(target); ok {
			peer.Unwrap().RegisterLink(p.ID)
		}
		p.IP++

	case OpUnlink:
		target := term.PidSerial(p.Registers[instr.A])
		p.UnregisterLink(target)
		if peer, ok := e.Runtime.Procs.Lookup(target); ok {
			peer.Unwrap().UnregisterLink(p.ID)
		}
		p.IP++

	case OpMonitor:
		return e.monitor(p, instr)

	case OpDemonitor:
		return e.demonitor(p, instr)

	case OpBif:
		return e.callBif(p, instr, dirty)

	case OpGCSafepoint:
		gc.Collect(p, int(instr.A))
		p.IP++

	case OpTrapExitSet:
		if p.Registers[instr.A] == term.MakeAtom(atomTrueIndex) {
			p.State.Set(process.TrapExit)
		} else {
			p.State.Clear(process.TrapExit)
		}
		p.IP++

	default:
		return e.fail(p, "bad_opcode")
	}

	return 0, false
}

// fail terminates p with {error, reasonAtom}, the uniform shape for engine-
// detected faults (as distinct from BIF-raised errors, which carry their
// own reason term).
func (e *Engine) fail(p *process.Process, reasonAtom string) (Verdict, bool) {
	p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern(reasonAtom))
	return VerdictExit, true
}

// resolveWords dereferences w, whether it is a process-heap boxed pointer
// or a module-owned literal pointer, returning the backing word slice and
// the header's offset within it. This is the one place instructions that
// read tuple/cons contents need to branch on which kind of pointer they
// were handed, since a compiler is free to place a constant tuple/list
// either in a module's literal area or the process heap.
func (e *Engine) resolveWords(p *process.Process, mod *code.Module, w term.Word) (words []term.Word, off int, ok bool) {
	switch {
	case term.IsBoxed(w):
		gen, o := p.Heap.Resolve(term.BoxedIndex(w))
		return gen.Words, o, true
	case term.IsLiteral(w):
		idx := int(term.LiteralIndex(w))
		if idx < 0 || idx >= len(mod.Literals.Words) {
			return nil, 0, false
		}
		return mod.Literals.Words, idx, true
	default:
		return nil, 0, false
	}
}

// ensureHeap checks the young generation has room for n more words,
// triggering a GC (which may yield a fresh generation) if not. It returns
// false if the caller should treat this reduction as consumed without
// having executed the instruction (the dispatch loop retries it on its next
// iteration, or on the next Run once the budget is spent), matching
// spec.md's "safe point GC triggering before
// allocating instructions" rule.
func (e *Engine) ensureHeap(p *process.Process, n int) bool {
	if p.Heap.Young.Slack() >= n {
		return true
	}
	gc.Collect(p, n)
	return p.Heap.Young.Slack() >= n
}

func (e *Engine) callExt(p *process.Process, mod *code.Module, instr Instr) (Verdict, bool) {
	if int(instr.B) < 0 || int(instr.B) >= len(mod.Imports) {
		return e.fail(p, "bad_import_operand")
	}
	imp := mod.Imports[instr.B]

	target, ok := e.Runtime.Registry.Current(imp.Module)
	if !ok {
		return e.fail(p, "undef")
	}
	entry, ok := target.EntryPoint(imp.Function, imp.Arity)
	if !ok {
		return e.fail(p, "undef")
	}

	p.Frames = append(p.Frames, process.Frame{Code: mod, ReturnIP: p.IP + 1})
	p.CurrentCode = target
	p.IP = entry
	return 0, false
}

func (e *Engine) send(p *process.Process, instr Instr) (Verdict, bool) {
	targetPid := p.Registers[instr.A]
	if !term.IsPid(targetPid) {
		return e.fail(p, "badarg")
	}
	target, ok := e.Runtime.Procs.Lookup(term.PidSerial(targetPid))
	if !ok {
		// sending to a dead pid is a silent no-op, per spec.md's message
		// passing semantics (delivery is not guaranteed).
		p.IP++
		return 0, false
	}

	msg := copyMessage(target.Unwrap(), p, p.Registers[instr.B])
	target.Unwrap().EnqueueMessage(msg)
	p.IP++
	return 0, false
}

func (e *Engine) receiveMatchAtom(p *process.Process, mod *code.Module, instr Instr) (Verdict, bool) {
	globalIdx, err := mod.AtomIndex(uint32(instr.C))
	if err != nil {
		return e.fail(p, "bad_atom_operand")
	}
	want := term.MakeAtom(globalIdx)
	msg, ok := p.Mailbox.Receive(func(w term.Word) bool { return w == want })
	if !ok {
		p.IP = int(instr.A) // fall through to the receive's wait/timeout path
		return 0, false
	}
	p.Registers[instr.B] = msg
	p.IP++
	return 0, false
}

func (e *Engine) spawn(p *process.Process, mod *code.Module, instr Instr) (Verdict, bool) {
	funAtomGlobal, err := mod.AtomIndex(uint32(instr.B))
	if err != nil {
		return e.fail(p, "badarg")
	}
	child := e.Runtime.Procs.Spawn(process.SpawnConfig{
		Priority: p.Priority,
		Module:   mod.Name,
		Function: e.Runtime.Atoms.Name(funAtomGlobal),
		Arity:    0,
		GroupLeader: p.GroupLeader,
	})
	p.Registers[instr.A] = term.MakePid(child.Unwrap().ID)
	p.IP++
	return 0, false
}

// callFun invokes a module-local fun literal by its index into mod.Funs
// (operand B, matching callExt's import-index convention), pushing a
// return frame exactly like call_local. Free-variable capture is left to
// the compiler's register convention (a fun's free variables are expected
// already placed in the callee's argument registers by the caller); no
// heap-resident closure term is required for a purely local fun.
func (e *Engine) callFun(p *process.Process, mod *code.Module, instr Instr) (Verdict, bool) {
	idx := int(instr.B)
	if idx < 0 || idx >= len(mod.Funs) {
		return e.fail(p, "bad_fun_operand")
	}
	p.Frames = append(p.Frames, process.Frame{Code: mod, ReturnIP: p.IP + 1})
	p.IP = mod.Funs[idx].EntryOffset
	return 0, false
}

// monitor installs a one-way monitor from p onto the pid in register B,
// writing the new reference into register A. Monitoring a pid that no
// longer exists (or never existed) fires the DOWN notification
// immediately with reason noproc, matching the live case's eventual
// delivery instead of silently doing nothing.
func (e *Engine) monitor(p *process.Process, instr Instr) (Verdict, bool) {
	targetPid := p.Registers[instr.B]
	if !term.IsPid(targetPid) {
		return e.fail(p, "badarg")
	}
	target := term.PidSerial(targetPid)
	ref := e.Runtime.NextRef()
	p.RegisterMonitorOut(ref, target)

	if peer, ok := e.Runtime.Procs.Lookup(target); ok {
		peer.Unwrap().RegisterMonitorIn(ref, p.ID)
	} else {
		p.ClearMonitorOut(ref)
		e.deliverDown(p, ref, target, term.MakeAtom(e.Runtime.Atoms.Intern("noproc")))
	}

	p.Registers[instr.A] = term.MakeRef(ref.Serial)
	p.IP++
	return 0, false
}

// demonitor removes the monitor named by the reference in register A,
// clearing both p's outgoing record and the target's incoming one if the
// target process is still alive.
func (e *Engine) demonitor(p *process.Process, instr Instr) (Verdict, bool) {
	refWord := p.Registers[instr.A]
	if !term.IsRef(refWord) {
		return e.fail(p, "badarg")
	}
	ref := signaling.Ref{Serial: term.RefCounter(refWord)}

	if target, ok := p.MonitorsOut[ref]; ok {
		p.ClearMonitorOut(ref)
		if peer, ok := e.Runtime.Procs.Lookup(target); ok {
			peer.Unwrap().ClearMonitorIn(ref)
		}
	}
	p.IP++
	return 0, false
}

// deliverDown builds the spec.md §4.9 monitor message {'DOWN', Ref,
// process, Object, Reason} directly on p's heap and enqueues it. Used both
// for the immediate-noproc case monitor handles inline and for a live
// monitored peer's termination, drained from p.Signals at a safe point (see
// drainSignals).
func (e *Engine) deliverDown(p *process.Process, ref signaling.Ref, from uint32, reason term.Word) {
	elems := []term.Word{
		term.MakeAtom(e.Runtime.Atoms.Intern("DOWN")),
		term.MakeRef(ref.Serial),
		term.MakeAtom(e.Runtime.Atoms.Intern("process")),
		term.MakePid(from),
		reason,
	}
	e.enqueueTuple(p, elems)
}

// deliverExit builds the spec.md §4.9 trap_exit message {'EXIT', From,
// Reason} directly on p's heap and enqueues it, drained from p.Signals at a
// safe point (see drainSignals).
func (e *Engine) deliverExit(p *process.Process, from uint32, reason term.Word) {
	elems := []term.Word{
		term.MakeAtom(e.Runtime.Atoms.Intern("EXIT")),
		term.MakePid(from),
		reason,
	}
	e.enqueueTuple(p, elems)
}

// enqueueTuple allocates a tuple of elems on p's heap (collecting first if
// there isn't room) and appends it to p's mailbox.
func (e *Engine) enqueueTuple(p *process.Process, elems []term.Word) {
	need := len(elems) + 1
	if p.Heap.Young.Slack() < need {
		gc.Collect(p, need)
	}
	idx, err := p.HeapAlloc(need)
	if err != nil {
		return
	}
	msg := p.Heap.WriteTuple(idx, elems)
	p.Mailbox.Enqueue(msg)
}

// drainSignals delivers every control signal queued on p.Signals since its
// last dispatch, at the one point in the dispatch loop where its registers
// and instruction pointer are guaranteed consistent (spec.md §4.9: signals
// are "drained at safe points"). KindExit and KindDown are the only kinds
// ever produced today (internal/sched's terminate); link/unlink and
// monitor/demonitor are applied synchronously by their own opcodes instead
// of queued, so any other kind is drained and discarded rather than acted
// on twice.
func (e *Engine) drainSignals(p *process.Process) {
	for _, sig := range p.Signals.Drain() {
		switch sig.Kind {
		case signaling.KindExit:
			e.deliverExit(p, sig.From, sig.Reason)
		case signaling.KindDown:
			e.deliverDown(p, sig.MonitorRef, sig.From, sig.Reason)
		}
	}
}

func (e *Engine) callBif(p *process.Process, instr Instr, dirty bool) (Verdict, bool) {
	bif, ok := e.Runtime.BIFs.Lookup(int(instr.A))
	if !ok {
		return e.fail(p, "bad_bif_operand")
	}

	if !dirty && bif.Dirty != DirtyNone {
		p.PendingDirty = uint8(bif.Dirty)
		p.State.Set(process.DirtyRunning)
		return VerdictDirty, true
	}
	if dirty {
		p.PendingDirty = 0
		p.State.Clear(process.DirtyRunning)
	}

	argBase := int(instr.B)
	args := p.Registers[argBase : argBase+bif.Arity]

	cost := 1
	if bif.Cost != nil {
		cost = bif.Cost(args)
	}
	if cost > 1 {
		p.Reductions -= cost - 1
	}

	ctx := &CallContext{Process: p, Runtime: e.Runtime}
	result, err := bif.Fn(ctx, args)
	if err != nil {
		if xe, ok := err.(ExitError); ok {
			p.ExitReason = xe.ExitTerm(e.Runtime, p)
		} else {
			p.ExitReason = term.MakeAtom(e.Runtime.Atoms.Intern(fmt.Sprintf("badarg_%s", bif.Name)))
		}
		return VerdictExit, true
	}
	p.Registers[instr.C] = result
	p.IP++
	return 0, false
}
