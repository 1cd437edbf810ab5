package nif_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/nif"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

func newTestEnv() *nif.Env {
	p := process.New(1, process.SpawnConfig{})
	return nif.NewEnv(p, term.NewAtomTable(0))
}

func TestCallReturnsResultOnNormalCompletion(t *testing.T) {
	env := newTestEnv()
	fn := nif.Function(func(env *nif.Env, args []term.Word) (term.Word, error) {
		return args[0], nil
	})

	want := term.MakeSmallInt(7)
	got, err := nif.Call(fn, env, []term.Word{want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCallPropagatesOrdinaryError(t *testing.T) {
	env := newTestEnv()
	sentinel := errors.New("boom")
	fn := nif.Function(func(env *nif.Env, args []term.Word) (term.Word, error) {
		return term.Nil, sentinel
	})

	_, err := nif.Call(fn, env, nil)
	assert.Same(t, sentinel, err)
}

func TestCallRecoversPanicAsFaultError(t *testing.T) {
	env := newTestEnv()
	fn := nif.Function(func(env *nif.Env, args []term.Word) (term.Word, error) {
		panic("native code exploded")
	})

	_, err := nif.Call(fn, env, nil)
	require.Error(t, err)
	var fault *nif.FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, nif.FaultPanic, fault.Kind)
	assert.Contains(t, fault.Detail, "exploded")
}

func TestCallReportsGoexitAsFaultError(t *testing.T) {
	env := newTestEnv()
	fn := nif.Function(func(env *nif.Env, args []term.Word) (term.Word, error) {
		runtime.Goexit()
		return term.Nil, nil // unreachable
	})

	_, err := nif.Call(fn, env, nil)
	require.Error(t, err)
	var fault *nif.FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, nif.FaultGoexit, fault.Kind)
}
