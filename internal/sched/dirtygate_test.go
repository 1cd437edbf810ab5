package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirtyGateAdmitsWithinRateAndReportsNextAfter(t *testing.T) {
	gate := NewDirtyGate(map[time.Duration]int{time.Minute: 2})

	_, allowed := gate.Admit(DirtyCPU)
	require.True(t, allowed)
	_, allowed = gate.Admit(DirtyCPU)
	require.True(t, allowed)

	next, allowed := gate.Admit(DirtyCPU)
	assert.False(t, allowed)
	assert.False(t, next.IsZero())
}

func TestDirtyGateCategoriesAreIndependent(t *testing.T) {
	gate := NewDirtyGate(map[time.Duration]int{time.Minute: 1})

	_, allowed := gate.Admit(DirtyCPU)
	require.True(t, allowed)

	_, allowed = gate.Admit(DirtyIO)
	assert.True(t, allowed, "io category must not share cpu's budget")
}
