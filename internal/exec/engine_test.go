package exec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

func newTestRuntime(t *testing.T) (*exec.Runtime, *term.AtomTable) {
	t.Helper()
	atoms := term.NewAtomTable(0)
	registry := code.NewRegistry()
	procs := proctab.New(0, 0)
	return exec.NewRuntime(atoms, registry, procs), atoms
}

// buildAddModule assembles a tiny module: add2/0 computes 2+3 via the "+"
// BIF and returns, leaving the sum in register 0.
func buildAddModule(t *testing.T, rt *exec.Runtime) *code.Module {
	t.Helper()

	bifIdx, ok := rt.BIFs.Index("+", 2)
	require.True(t, ok)

	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 0, 2, 0) // r0 = 2
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 1, 3, 0) // r1 = 3
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(bifIdx), 0, 0) // r0 = bif(r0,r1)
	prog = exec.EncodeInstr(prog, exec.OpReturn, 0, 0, 0)

	mod := &code.Module{
		Name:     "calc",
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: "add2", Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
	return mod
}

func TestEngineRunsArithmeticAndReturns(t *testing.T) {
	rt, _ := newTestRuntime(t)
	mod := buildAddModule(t, rt)
	require.NoError(t, rt.Registry.Publish(mod))

	p := rt.Procs.Spawn(process.SpawnConfig{Module: "calc", Function: "add2", Arity: 0}).Unwrap()

	engine := exec.NewEngine(rt)
	verdict := engine.Run(p, 100)

	require.Equal(t, exec.VerdictExit, verdict)
	assert.Equal(t, int64(5), term.SmallInt(p.Registers[0]))
}

func TestEngineYieldsWhenBudgetExhausted(t *testing.T) {
	rt, _ := newTestRuntime(t)
	mod := buildAddModule(t, rt)
	require.NoError(t, rt.Registry.Publish(mod))

	p := rt.Procs.Spawn(process.SpawnConfig{Module: "calc", Function: "add2", Arity: 0}).Unwrap()

	engine := exec.NewEngine(rt)
	verdict := engine.Run(p, 1)

	assert.Equal(t, exec.VerdictYield, verdict)
	assert.NotNil(t, p.CurrentCode)
}

func TestEngineReceiveMatchesQueuedAtomMessage(t *testing.T) {
	rt, atoms := newTestRuntime(t)

	pongAtom := atoms.Intern("pong")

	// receiver/0: receive `pong` into r0, then return.
	var recvProg []byte
	recvProg = exec.EncodeInstr(recvProg, exec.OpReceiveStart, 0, 0, 0)
	recvProg = exec.EncodeInstr(recvProg, exec.OpReceiveMatchAtom, 3, 0, 0)
	recvProg = exec.EncodeInstr(recvProg, exec.OpReturn, 0, 0, 0)
	recvProg = exec.EncodeInstr(recvProg, exec.OpReceiveWait, 0, 0, 0)

	recvMod := &code.Module{
		Name:     "recvmod",
		Code:     recvProg,
		Exports:  map[code.ExportKey]int{{Function: "receiver", Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
	// module-local atom 0 maps directly to the global "pong" atom, so
	// OpReceiveMatchAtom's operand (module-local index 0) resolves
	// correctly without going through the chunked loader.
	recvMod.SetAtomMapping([]uint32{pongAtom})
	require.NoError(t, rt.Registry.Publish(recvMod))

	receiver := rt.Procs.Spawn(process.SpawnConfig{Module: "recvmod", Function: "receiver", Arity: 0}).Unwrap()
	receiver.Mailbox.Enqueue(term.MakeAtom(pongAtom))

	engine := exec.NewEngine(rt)
	verdict := engine.Run(receiver, 100)

	require.Equal(t, exec.VerdictExit, verdict)
	assert.Equal(t, pongAtom, term.AtomIndex(receiver.Registers[0]))
}
