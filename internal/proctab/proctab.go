// Package proctab implements the process table (C3): a pid-serial to
// Process map with read-locked, sharded lookup that is safe under
// concurrent insert/remove, stable
// serial allocation, and ABA-safe reuse (a freed serial is never handed
// back out until it has aged past a retention window).
//
// The design is grounded on the teacher package's promise registry
// (github.com/joeycumines/go-eventloop's registry.go): a striped structure
// combining a map for lookup with a ring buffer for deterministic
// sweeping/scavenging, adapted from weak (GC-trackable) references to
// strong ownership, since the process table is specified as the one
// subsystem that holds a strong reference to every live process.
package proctab

import (
	"sync"
	"sync/atomic"

	"github.com/yenrab/iron-beam/internal/process"
)

// spawnCounter round-robins Spawn calls across shards.
var spawnCounter atomic.Uint64

// DefaultShardCount is the number of stripes the table splits across, to
// reduce lock contention on insert/remove under concurrent schedulers.
const DefaultShardCount = 32

// DefaultABAWindow is how many of a shard's most-recently-freed serials
// must age out before being reused, per spec.md's invariant that "no freed
// pid's serial resolves except possibly to a different, live process".
const DefaultABAWindow = 4096

type shard struct {
	mu    sync.RWMutex
	procs map[uint32]*process.Process

	next uint32 // next serial candidate within this shard's id space

	// freedRing records the most recently freed serials in this shard,
	// bounded to DefaultABAWindow entries; a serial may not be reissued
	// while it is still present here.
	freedRing []uint32
	freedSet  map[uint32]struct{}
	freedHead int
}

// Table is the runtime-wide process table.
type Table struct {
	shards    []*shard
	abaWindow int
}

// New creates a process table with the given shard count (0 selects the
// default) and ABA retention window (0 selects the default).
func New(shardCount, abaWindow int) *Table {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if abaWindow <= 0 {
		abaWindow = DefaultABAWindow
	}
	t := &Table{shards: make([]*shard, shardCount), abaWindow: abaWindow}
	for i := range t.shards {
		t.shards[i] = &shard{
			procs:     make(map[uint32]*process.Process),
			freedRing: make([]uint32, 0, abaWindow),
			freedSet:  make(map[uint32]struct{}, abaWindow),
			next:      uint32(i),
		}
	}
	return t
}

func (t *Table) shardFor(serial uint32) *shard {
	return t.shards[serial%uint32(len(t.shards))]
}

// Spawn allocates a fresh serial (never colliding with a live process, and
// distinct from any serial freed within the ABA window), constructs a
// Process via cfg using process.New, inserts it, and returns it.
func (t *Table) Spawn(cfg process.SpawnConfig) *Process {
	// Round-robin the starting shard by a cheap package-wide counter so
	// concurrent spawners spread across shards instead of piling into
	// shard 0.
	shardIdx := int(spawnCounter.Add(1)) % len(t.shards)
	sh := t.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	serial := sh.allocateSerialLocked(len(t.shards))
	p := process.New(serial, cfg)
	sh.procs[serial] = p

	return &Process{table: t, p: p}
}

// allocateSerialLocked must be called with sh.mu held. It advances past any
// serial currently live or within the freed-ABA window.
func (sh *shard) allocateSerialLocked(stride int) uint32 {
	for {
		candidate := sh.next
		sh.next += uint32(stride)

		if _, live := sh.procs[candidate]; live {
			continue
		}
		if _, recentlyFreed := sh.freedSet[candidate]; recentlyFreed {
			continue
		}
		return candidate
	}
}

// Lookup resolves a serial to its live Process under the shard's RWMutex
// read lock plus a map read. Lookups run in parallel with each other, but
// a lookup waits while a Spawn or Remove holds the same shard's write lock;
// it is not wait-free.
func (t *Table) Lookup(serial uint32) (*Process, bool) {
	sh := t.shardFor(serial)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.procs[serial]
	if !ok {
		return nil, false
	}
	return &Process{table: t, p: p}, true
}

// Remove drops serial from the live set and records it in the shard's
// freed-ABA ring, bumping the serial's age so it cannot be immediately
// reissued.
func (t *Table) Remove(serial uint32) {
	sh := t.shardFor(serial)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.procs, serial)

	if cap(sh.freedRing) == 0 {
		return
	}
	if len(sh.freedRing) < cap(sh.freedRing) {
		sh.freedRing = append(sh.freedRing, serial)
		sh.freedSet[serial] = struct{}{}
		return
	}
	evicted := sh.freedRing[sh.freedHead]
	delete(sh.freedSet, evicted)
	sh.freedRing[sh.freedHead] = serial
	sh.freedSet[serial] = struct{}{}
	sh.freedHead = (sh.freedHead + 1) % len(sh.freedRing)
}

// Len reports the total number of live processes across all shards,
// primarily for tests asserting the spawn/exit accounting invariant.
func (t *Table) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.procs)
		sh.mu.RUnlock()
	}
	return n
}

// Each invokes fn for every currently live process, used by the literal
// collector's safepoint sweep. fn must not mutate the table.
func (t *Table) Each(fn func(*Process)) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		snapshot := make([]*process.Process, 0, len(sh.procs))
		for _, p := range sh.procs {
			snapshot = append(snapshot, p)
		}
		sh.mu.RUnlock()

		for _, p := range snapshot {
			fn(&Process{table: t, p: p})
		}
	}
}

// Process is a thin handle onto a table-owned *process.Process, so callers
// always reach the process through the table rather than caching a raw
// pointer past the process's lifetime.
type Process struct {
	table *Table
	p     *process.Process
}

// Unwrap returns the underlying process.Process.
func (h *Process) Unwrap() *process.Process {
	return h.p
}
