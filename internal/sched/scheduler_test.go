package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/sched"
	"github.com/yenrab/iron-beam/internal/term"
)

func newTestRuntime(t *testing.T) (*exec.Runtime, *term.AtomTable, *proctab.Table) {
	t.Helper()
	atoms := term.NewAtomTable(0)
	registry := code.NewRegistry()
	procs := proctab.New(0, 0)
	return exec.NewRuntime(atoms, registry, procs), atoms, procs
}

func haltModule(name, fn string) *code.Module {
	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpHalt, 0, 0, 0)
	return &code.Module{
		Name:     name,
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: fn, Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestSchedulerRunsProcessToCompletionAndRemovesIt(t *testing.T) {
	rt, _, procs := newTestRuntime(t)
	mod := haltModule("m", "f")
	require.NoError(t, rt.Registry.Publish(mod))

	engine := exec.NewEngine(rt)
	s := sched.New(engine, procs, sched.Config{Threads: 2})
	s.Start()
	defer s.Stop()

	p := procs.Spawn(process.SpawnConfig{Module: "m", Function: "f", Arity: 0}).Unwrap()
	s.Enqueue(p)

	require.True(t, waitUntil(t, time.Second, func() bool {
		_, ok := procs.Lookup(p.ID)
		return !ok
	}))
}

// haltWithBifLoopModule builds a module that calls the "+" BIF N times in a
// local loop before halting, so a small reduction budget forces multiple
// yield/re-enqueue cycles through the scheduler.
func haltWithBifLoopModule(t *testing.T, rt *exec.Runtime, name, fn string, iterations int32) *code.Module {
	t.Helper()
	bifIdx, ok := rt.BIFs.Index("+", 2)
	require.True(t, ok)

	bifLess, ok := rt.BIFs.Index("<", 2)
	require.True(t, ok)

	// Registers: r0 counter, r1 increment constant, r2 iterations bound,
	// r3 comparison result, r4/r5 scratch holding a contiguous copy of the
	// operands each BIF call needs (BIF args are read from a contiguous
	// register span starting at argBase).
	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 0, 0, 0)          // r0 = 0
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 1, 1, 0)          // r1 = 1
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 2, iterations, 0) // r2 = iterations
	loopIP := int32(exec.NumInstructions(prog))
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(bifIdx), 0, 0) // r0 = r0 + r1
	prog = exec.EncodeInstr(prog, exec.OpMoveReg, 4, 0, 0)         // r4 = r0
	prog = exec.EncodeInstr(prog, exec.OpMoveReg, 5, 2, 0)         // r5 = r2
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(bifLess), 4, 3) // r3 = r4 < r5
	haltIP := int32(exec.NumInstructions(prog) + 2)
	prog = exec.EncodeInstr(prog, exec.OpJumpIfFalseAtom, haltIP, 3, 0)
	prog = exec.EncodeInstr(prog, exec.OpJump, loopIP, 0, 0)
	prog = exec.EncodeInstr(prog, exec.OpHalt, 0, 0, 0)

	return &code.Module{
		Name:     name,
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: fn, Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
}

func TestSchedulerYieldsAndResumesAcrossMultipleReductionBudgets(t *testing.T) {
	rt, _, procs := newTestRuntime(t)
	mod := haltWithBifLoopModule(t, rt, "loopmod", "run", 50)
	require.NoError(t, rt.Registry.Publish(mod))

	engine := exec.NewEngine(rt)
	s := sched.New(engine, procs, sched.Config{Threads: 2, ReductionBudget: 3})
	s.Start()
	defer s.Stop()

	p := procs.Spawn(process.SpawnConfig{Module: "loopmod", Function: "run", Arity: 0}).Unwrap()
	s.Enqueue(p)

	require.True(t, waitUntil(t, 2*time.Second, func() bool {
		_, ok := procs.Lookup(p.ID)
		return !ok
	}))
}

// badArgModule crashes with a BIF badarg (a non-normal exit reason) by
// adding a non-integer atom to a small int, exercising the scheduler's
// link-propagation path rather than the clean OpHalt exit.
func badArgModule(t *testing.T, rt *exec.Runtime, name, fn string) *code.Module {
	t.Helper()
	bifIdx, ok := rt.BIFs.Index("+", 2)
	require.True(t, ok)
	oopsAtom := rt.Atoms.Intern("oops")

	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpMoveAtom, 0, 0, 0) // r0 = oops (module-local atom 0)
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 1, 1, 0)
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(bifIdx), 0, 0)

	mod := &code.Module{
		Name:     name,
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: fn, Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
	mod.SetAtomMapping([]uint32{oopsAtom})
	return mod
}

func TestSchedulerPropagatesAbnormalExitAcrossLink(t *testing.T) {
	rt, _, procs := newTestRuntime(t)
	victimMod := badArgModule(t, rt, "crasher", "boom")
	linkedMod := haltModule("waiter", "idle")
	require.NoError(t, rt.Registry.Publish(victimMod))
	require.NoError(t, rt.Registry.Publish(linkedMod))

	engine := exec.NewEngine(rt)
	s := sched.New(engine, procs, sched.Config{Threads: 2})
	s.Start()
	defer s.Stop()

	victim := procs.Spawn(process.SpawnConfig{Module: "crasher", Function: "boom", Arity: 0}).Unwrap()
	linked := procs.Spawn(process.SpawnConfig{Module: "waiter", Function: "idle", Arity: 0}).Unwrap()

	victim.RegisterLink(linked.ID)
	linked.RegisterLink(victim.ID)
	linked.State.Set(process.Waiting) // simulate linked being parked on a receive

	s.Enqueue(victim)

	require.True(t, waitUntil(t, time.Second, func() bool {
		_, vok := procs.Lookup(victim.ID)
		_, lok := procs.Lookup(linked.ID)
		return !vok && !lok
	}), "linked process must be exited by the abnormal-exit propagation cascade")
}

func TestSchedulerStopDrainsWorkersWithoutPanicking(t *testing.T) {
	rt, _, procs := newTestRuntime(t)
	engine := exec.NewEngine(rt)
	s := sched.New(engine, procs, sched.Config{Threads: 4})
	s.Start()
	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })
}
