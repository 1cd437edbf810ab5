package nif_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/nif"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/term"
)

func newTestRuntime(t *testing.T) *exec.Runtime {
	t.Helper()
	atoms := term.NewAtomTable(0)
	registry := code.NewRegistry()
	procs := proctab.New(0, 0)
	return exec.NewRuntime(atoms, registry, procs)
}

func TestAsBIFWiresSuccessfulNativeCall(t *testing.T) {
	rt := newTestRuntime(t)
	double := nif.AsBIF("native_double", 1, exec.DirtyNone, nil, func(env *nif.Env, args []term.Word) (term.Word, error) {
		n := term.SmallInt(args[0])
		return term.MakeSmallInt(n * 2), nil
	})
	rt.BIFs = exec.NewBIFTable([]*exec.BIF{double})

	p := process.New(1, process.SpawnConfig{})
	ctx := &exec.CallContext{Process: p, Runtime: rt}
	result, err := double.Fn(ctx, []term.Word{term.MakeSmallInt(21)})
	require.NoError(t, err)
	assert.Equal(t, term.MakeSmallInt(42), result)
}

func TestAsBIFTurnsPanicIntoNativeFaultExitTerm(t *testing.T) {
	rt := newTestRuntime(t)
	crash := nif.AsBIF("native_crash", 0, exec.DirtyNone, nil, func(env *nif.Env, args []term.Word) (term.Word, error) {
		panic("unexpected")
	})

	p := process.New(1, process.SpawnConfig{})
	ctx := &exec.CallContext{Process: p, Runtime: rt}
	_, err := crash.Fn(ctx, nil)
	require.Error(t, err)

	xe, ok := err.(exec.ExitError)
	require.True(t, ok, "nif.FaultError must implement exec.ExitError")
	reason := xe.ExitTerm(rt, p)

	require.True(t, term.IsBoxed(reason))
	gen, idx := p.Heap.Resolve(term.BoxedIndex(reason))
	kind, arity := term.DecodeHeader(gen.Words[idx])
	assert.Equal(t, term.KindTuple, kind)
	assert.Equal(t, uint32(3), arity)
}
