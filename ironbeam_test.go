package ironbeam_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
	ironbeam "github.com/yenrab/iron-beam"
)

// buildChunk/atomChunkPayload/exportChunkPayload/emptyCountPayload mirror
// internal/code's own test helpers for constructing a minimal valid
// chunked module image by hand.
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

// buildHaltModuleImage builds a module exporting fn/0 as a single OpHalt
// instruction, matching internal/code's own minimal-image test fixture.
func buildHaltModuleImage(t *testing.T, fn string) []byte {
	t.Helper()
	var img []byte
	img = append(img, code.Magic[:]...)
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], 1)
	img = append(img, ver[:]...)

	img = buildChunk(img, code.TagAtoms, atomChunkPayload("m", fn))
	img = buildChunk(img, code.TagExports, exportChunkPayload([][3]uint32{{1, 0, 0}}))
	img = buildChunk(img, code.TagImports, emptyCountPayload())
	img = buildChunk(img, code.TagCode, make([]byte, 13))

	return img
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

func TestInitializeStartSpawnShutdownLifecycle(t *testing.T) {
	h, err := ironbeam.Initialize(ironbeam.WithSchedulerCount(2))
	require.NoError(t, err)

	img := buildHaltModuleImage(t, "run")
	require.NoError(t, h.LoadModule("m", img))

	_, err = h.SpawnInitial("m", "run", nil)
	assert.ErrorIs(t, err, ironbeam.ErrNotStarted)

	require.NoError(t, h.Start())
	assert.ErrorIs(t, h.Start(), ironbeam.ErrAlreadyStarted)

	pid, err := h.SpawnInitial("m", "run", nil)
	require.NoError(t, err)
	assert.NotZero(t, pid)

	require.True(t, waitUntil(t, time.Second, func() bool {
		_, ok := h.Procs.Lookup(pid)
		return !ok
	}), "initial process must run to completion and be removed")

	status := h.Shutdown()
	assert.Equal(t, "shutdown", status.Reason)
	// Shutdown must be idempotent.
	assert.Equal(t, "shutdown", h.Shutdown().Reason)
}

func TestSpawnInitialRejectsUnknownModule(t *testing.T) {
	h, err := ironbeam.Initialize()
	require.NoError(t, err)
	require.NoError(t, h.Start())
	defer h.Shutdown()

	_, err = h.SpawnInitial("nope", "run", nil)
	assert.ErrorIs(t, err, ironbeam.ErrModuleNotFound)
}

// buildNIFEchoModuleImage builds a module exporting run/0: it calls the
// runtime's built-in nif_identity/1 BIF on the immediate 7, leaves the
// result in r1, then parks on a receive so the test can inspect its
// registers before the process is removed from the table.
func buildNIFEchoModuleImage(t *testing.T, bifIdx int) []byte {
	t.Helper()
	var prog []byte
	prog = exec.EncodeInstr(prog, exec.OpMoveImmSmall, 0, 7, 0)             // r0 = 7
	prog = exec.EncodeInstr(prog, exec.OpBif, int32(bifIdx), 0, 1)          // r1 = nif_identity(r0)
	prog = exec.EncodeInstr(prog, exec.OpReceiveStart, 0, 0, 0)
	prog = exec.EncodeInstr(prog, exec.OpReceiveWait, 0, 0, 0)

	var img []byte
	img = append(img, code.Magic[:]...)
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], 1)
	img = append(img, ver[:]...)

	img = buildChunk(img, code.TagAtoms, atomChunkPayload("m", "run"))
	img = buildChunk(img, code.TagExports, exportChunkPayload([][3]uint32{{1, 0, 0}}))
	img = buildChunk(img, code.TagImports, emptyCountPayload())
	img = buildChunk(img, code.TagCode, prog)

	return img
}

func TestBuiltinNIFIdentityBIFIsWiredAndCallable(t *testing.T) {
	h, err := ironbeam.Initialize(ironbeam.WithSchedulerCount(1))
	require.NoError(t, err)
	defer h.Shutdown()

	bifIdx, ok := h.Engine.Runtime.BIFs.Index("nif_identity", 1)
	require.True(t, ok, "ironbeam.Initialize must register the nif_identity/1 built-in")

	img := buildNIFEchoModuleImage(t, bifIdx)
	require.NoError(t, h.LoadModule("m", img))
	require.NoError(t, h.Start())

	pid, err := h.SpawnInitial("m", "run", nil)
	require.NoError(t, err)

	require.True(t, waitUntil(t, time.Second, func() bool {
		proc, ok := h.Procs.Lookup(pid)
		return ok && proc.Unwrap().State.Has(process.Waiting)
	}), "process must reach the parked receive after the NIF call completes")

	proc, ok := h.Procs.Lookup(pid)
	require.True(t, ok)
	assert.Equal(t, int64(7), term.SmallInt(proc.Unwrap().Registers[1]))
}

func TestSpawnInitialRejectsUnexportedFunction(t *testing.T) {
	h, err := ironbeam.Initialize()
	require.NoError(t, err)

	img := buildHaltModuleImage(t, "run")
	require.NoError(t, h.LoadModule("m", img))
	require.NoError(t, h.Start())
	defer h.Shutdown()

	_, err = h.SpawnInitial("m", "other", nil)
	assert.ErrorIs(t, err, ironbeam.ErrFunctionNotExported)
}
