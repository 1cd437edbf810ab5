package nif_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/nif"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

func TestEnvAllocAndWriteTupleRoundTrips(t *testing.T) {
	p := process.New(1, process.SpawnConfig{})
	atoms := term.NewAtomTable(0)
	env := nif.NewEnv(p, atoms)

	elems := []term.Word{term.MakeSmallInt(1), term.MakeSmallInt(2)}
	idx, err := env.Alloc(len(elems) + 1)
	require.NoError(t, err)

	tup := env.WriteTuple(idx, elems)
	assert.NotEqual(t, term.Nil, tup)
}

func TestEnvMakeAtomInternsIntoSharedTable(t *testing.T) {
	p := process.New(1, process.SpawnConfig{})
	atoms := term.NewAtomTable(0)
	env := nif.NewEnv(p, atoms)

	a := env.MakeAtom("ok")
	idx, ok := atoms.Index("ok")
	require.True(t, ok)
	assert.Equal(t, term.MakeAtom(idx), a)
}
