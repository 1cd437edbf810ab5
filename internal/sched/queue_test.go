package sched

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/process"
)

func TestProcessQueueFIFOAcrossChunkBoundary(t *testing.T) {
	var q processQueue
	procs := make([]*process.Process, chunkSize*2+3)
	for i := range procs {
		procs[i] = process.New(uint32(i), process.SpawnConfig{})
		q.Push(procs[i])
	}
	require.Equal(t, len(procs), q.Len())

	for i := range procs {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, procs[i], got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPriorityQueuesMaxAlwaysWinsOverEverything(t *testing.T) {
	var q priorityQueues
	low := process.New(1, process.SpawnConfig{Priority: process.PriorityLow})
	normal := process.New(2, process.SpawnConfig{Priority: process.PriorityNormal})
	high := process.New(3, process.SpawnConfig{Priority: process.PriorityHigh})
	max := process.New(4, process.SpawnConfig{Priority: process.PriorityMax})

	q.push(low)
	q.push(normal)
	q.push(high)
	q.push(max)

	rng := rand.New(rand.NewSource(1))
	got, ok := q.pop(rng)
	require.True(t, ok)
	assert.Same(t, max, got)

	got, ok = q.pop(rng)
	require.True(t, ok)
	assert.Same(t, high, got)
}

func TestPriorityQueuesLowBiasIsRoughlyOneInEight(t *testing.T) {
	var q priorityQueues
	rng := rand.New(rand.NewSource(42))

	lowPicks := 0
	const trials = 8000
	for i := 0; i < trials; i++ {
		q.push(process.New(uint32(i*2), process.SpawnConfig{Priority: process.PriorityNormal}))
		q.push(process.New(uint32(i*2+1), process.SpawnConfig{Priority: process.PriorityLow}))

		got, ok := q.pop(rng)
		require.True(t, ok)
		if got.Priority == process.PriorityLow {
			lowPicks++
		}
		// drain the one left behind so the queues don't accumulate.
		q.pop(rng)
	}

	fraction := float64(lowPicks) / float64(trials)
	assert.InDelta(t, 1.0/8.0, fraction, 0.03)
}
