package exec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// collectSmallIntList walks a proper list of small ints rooted on p's heap,
// mirroring the walk internal/exec's own listLength BIF helper does.
func collectSmallIntList(t *testing.T, p *process.Process, w term.Word) []int64 {
	t.Helper()
	var out []int64
	for {
		if term.IsNil(w) {
			return out
		}
		require.True(t, term.IsBoxed(w))
		gen, off := p.Heap.Resolve(term.BoxedIndex(w))
		kind, _ := term.DecodeHeader(gen.Words[off])
		require.Equal(t, term.KindCons, kind)
		require.True(t, term.IsSmallInt(gen.Words[off+1]))
		out = append(out, term.SmallInt(gen.Words[off+1]))
		w = gen.Words[off+2]
	}
}

// TestTermToBinaryRoundTripsAndIsIdempotent builds a 10-element list,
// encodes it via term_to_binary, decodes it back via binary_to_term, and
// checks the result compares equal to the original; round-tripping the
// decoded term a second time produces the same list again.
func TestTermToBinaryRoundTripsAndIsIdempotent(t *testing.T) {
	rt, _ := newTestRuntime(t)

	ttb, ok := rt.BIFs.Index("term_to_binary", 1)
	require.True(t, ok)
	btt, ok := rt.BIFs.Index("binary_to_term", 1)
	require.True(t, ok)

	const listReg = 5
	const valueReg = 6
	const binReg1 = 7
	const decReg1 = 8
	const binReg2 = 9
	const decReg2 = 10

	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpMoveNil, listReg, 0, 0)
	for v := int32(10); v >= 1; v-- {
		prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, valueReg, v, 0)
		prog = exec.EncodeInstr(prog, exec.OpAllocCons, listReg, valueReg, listReg)
	}
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(ttb), listReg, binReg1)
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(btt), binReg1, decReg1)
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(ttb), decReg1, binReg2)
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(btt), binReg2, decReg2)
	prog = exec.EncodeInstr(prog, exec.OpReturn, 0, 0, 0)

	mod := &code.Module{
		Name:     "termbin",
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: "run", Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
	require.NoError(t, rt.Registry.Publish(mod))

	p := rt.Procs.Spawn(process.SpawnConfig{Module: "termbin", Function: "run", Arity: 0}).Unwrap()

	engine := exec.NewEngine(rt)
	verdict := engine.Run(p, 1000)
	require.Equal(t, exec.VerdictExit, verdict)

	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, want, collectSmallIntList(t, p, p.Registers[listReg]))
	assert.Equal(t, want, collectSmallIntList(t, p, p.Registers[decReg1]), "first round trip")
	assert.Equal(t, want, collectSmallIntList(t, p, p.Registers[decReg2]), "second round trip is idempotent")

	gen, off := p.Heap.Resolve(term.BoxedIndex(p.Registers[binReg1]))
	kind, size := term.DecodeHeader(gen.Words[off])
	require.Equal(t, term.KindRefcBinary, kind)
	require.EqualValues(t, 1, size)

	require.Len(t, p.OffHeapBins, 2, "one owned RefcBinary per term_to_binary call")
	assert.EqualValues(t, 1, p.OffHeapBins[0].RefCount())
}

func TestBinaryToTermRejectsNonBinaryArgument(t *testing.T) {
	rt, atoms := newTestRuntime(t)

	btt, ok := rt.BIFs.Index("binary_to_term", 1)
	require.True(t, ok)

	const srcReg = 0
	const decReg = 1

	var prog []byte
	// A small int is not boxed at all, so it can never be a RefcBinary term.
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, srcReg, 7, 0)
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(btt), srcReg, decReg)
	prog = exec.EncodeInstr(prog, exec.OpReturn, 0, 0, 0)

	mod := &code.Module{
		Name:     "termbin2",
		Code:     prog,
		Exports:  map[code.ExportKey]int{{Function: "run", Arity: 0}: 0},
		Literals: heap.NewLiteralArea(nil),
	}
	require.NoError(t, rt.Registry.Publish(mod))

	p := rt.Procs.Spawn(process.SpawnConfig{Module: "termbin2", Function: "run", Arity: 0}).Unwrap()

	engine := exec.NewEngine(rt)
	verdict := engine.Run(p, 100)
	require.Equal(t, exec.VerdictExit, verdict)
	assert.Equal(t, term.MakeAtom(atoms.Intern("badarg_binary_to_term")), p.ExitReason)
}
