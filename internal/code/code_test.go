package code_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/term"
)

// buildChunk appends one tag+length+payload+padding chunk to buf.
func buildChunk(buf []byte, tag string, payload []byte) []byte {
	buf = append(buf, tag...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	if pad := (4 - (len(buf) % 4)) % 4; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

func atomChunkPayload(names ...string) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(names)))
	payload := append([]byte{}, buf[:]...)
	for _, n := range names {
		payload = append(payload, byte(len(n)))
		payload = append(payload, n...)
	}
	return payload
}

func exportChunkPayload(entries [][3]uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(entries)))
	payload := append([]byte{}, buf[:]...)
	for _, e := range entries {
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], e[0])
		payload = append(payload, a[:]...)
		payload = append(payload, byte(e[1]))
		var c [4]byte
		binary.BigEndian.PutUint32(c[:], e[2])
		payload = append(payload, c[:]...)
	}
	return payload
}

func emptyCountPayload() []byte {
	var buf [4]byte
	return buf[:]
}

func buildMinimalImage(t *testing.T) []byte {
	t.Helper()
	var img []byte
	img = append(img, code.Magic[:]...)
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], 1)
	img = append(img, ver[:]...)

	img = buildChunk(img, code.TagAtoms, atomChunkPayload("m", "f"))
	img = buildChunk(img, code.TagExports, exportChunkPayload([][3]uint32{{1, 0, 0}}))
	img = buildChunk(img, code.TagImports, emptyCountPayload())
	img = buildChunk(img, code.TagCode, make([]byte, 13)) // one halt-shaped instruction's worth of bytes

	return img
}

func TestParseChunksRoundTrips(t *testing.T) {
	img := buildMinimalImage(t)
	chunks, err := code.ParseChunks(img)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, code.TagAtoms, chunks[0].Tag)
	assert.Equal(t, code.TagCode, chunks[3].Tag)
}

func TestParseChunksRejectsBadMagic(t *testing.T) {
	img := buildMinimalImage(t)
	img[0] = 'X'
	_, err := code.ParseChunks(img)
	assert.ErrorIs(t, err, code.ErrBadMagic)
}

func TestLoaderLoadsAndValidatesModule(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	mod, err := loader.Load("m", img)
	require.NoError(t, err)
	assert.Equal(t, "m", mod.Name)

	entry, ok := mod.EntryPoint("f", 0)
	require.True(t, ok)
	assert.Equal(t, 0, entry)
}

func TestLoaderRejectsTruncatedImage(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	_, err := loader.Load("m", img[:len(img)-2])
	assert.Error(t, err)
}

func TestRegistryPublishAndPurgeLifecycle(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	modV1, err := loader.Load("m", img)
	require.NoError(t, err)

	registry := code.NewRegistry()
	require.NoError(t, registry.Publish(modV1))

	modV2, err := loader.Load("m", img)
	require.NoError(t, err)
	require.NoError(t, registry.Publish(modV2))
	assert.True(t, registry.HasOld("m"))

	modV3, err := loader.Load("m", img)
	require.NoError(t, err)
	err = registry.Publish(modV3)
	assert.ErrorIs(t, err, code.ErrOldVersionPresent)

	// Registry has no exported unconditional purge: the only safe path is
	// a Collector backed by a ProcessSweeper that has confirmed no process
	// is still executing the old version.
	collector := code.NewCollector(registry, alwaysIdleSweeper{}, 0)
	defer collector.Close()
	purged, err := collector.RequestPurge(t.Context(), "m")
	require.NoError(t, err)
	require.True(t, purged)
	assert.False(t, registry.HasOld("m"))
	require.NoError(t, registry.Publish(modV3))
}

type alwaysIdleSweeper struct{}

func (alwaysIdleSweeper) StillExecuting(string) bool { return false }

type alwaysBusySweeper struct{}

func (alwaysBusySweeper) StillExecuting(string) bool { return true }

func TestCollectorPurgesWhenNoProcessIsExecutingOldCode(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	modV1, err := loader.Load("m", img)
	require.NoError(t, err)
	registry := code.NewRegistry()
	require.NoError(t, registry.Publish(modV1))

	modV2, err := loader.Load("m", img)
	require.NoError(t, err)
	require.NoError(t, registry.Publish(modV2))

	collector := code.NewCollector(registry, alwaysIdleSweeper{}, 0)
	defer collector.Close()

	purged, err := collector.RequestPurge(t.Context(), "m")
	require.NoError(t, err)
	assert.True(t, purged)
	assert.False(t, registry.HasOld("m"))
}

// TestCollectorRefusesPurgeWhileAProcessIsStillExecutingOldCode exercises
// spec.md §8 Invariant 7's "busy" case: a purge vote must not retire the old
// version while the sweeper reports a process still has an instruction
// pointer (or call frame) inside it.
func TestCollectorRefusesPurgeWhileAProcessIsStillExecutingOldCode(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	modV1, err := loader.Load("m", img)
	require.NoError(t, err)
	registry := code.NewRegistry()
	require.NoError(t, registry.Publish(modV1))

	modV2, err := loader.Load("m", img)
	require.NoError(t, err)
	require.NoError(t, registry.Publish(modV2))

	collector := code.NewCollector(registry, alwaysBusySweeper{}, 0)
	defer collector.Close()

	purged, err := collector.RequestPurge(t.Context(), "m")
	require.NoError(t, err)
	assert.False(t, purged)
	assert.True(t, registry.HasOld("m"))
}

// TestProcTableSweeperDetectsOldCodeByPointerIdentity grounds
// code.ProcTableSweeper against the real process table: it must tell the
// current version of a module (same name) apart from a process genuinely
// still parked inside the superseded version's code.
func TestProcTableSweeperDetectsOldCodeByPointerIdentity(t *testing.T) {
	img := buildMinimalImage(t)
	atoms := term.NewAtomTable(0)
	loader := code.NewLoader(atoms)

	modV1, err := loader.Load("m", img)
	require.NoError(t, err)
	registry := code.NewRegistry()
	require.NoError(t, registry.Publish(modV1))

	procs := proctab.New(0, 0)
	sweeper := &code.ProcTableSweeper{Registry: registry, Procs: procs}

	handle := procs.Spawn(process.SpawnConfig{Module: "m", Function: "f", Arity: 0})
	handle.Unwrap().CurrentCode = modV1

	modV2, err := loader.Load("m", img)
	require.NoError(t, err)
	require.NoError(t, registry.Publish(modV2))

	assert.True(t, sweeper.StillExecuting("m"), "a process whose CurrentCode is the old module must block purge")

	handle.Unwrap().CurrentCode = modV2
	assert.False(t, sweeper.StillExecuting("m"), "a process running the current version must not block purge")

	handle.Unwrap().Frames = []process.Frame{{Code: modV1, ReturnIP: 0}}
	assert.True(t, sweeper.StillExecuting("m"), "an old frame on the call stack must also block purge")
}
