// Package gc implements the per-process generational copying collector
// (C7): a minor collection evacuates the young generation into a fresh
// young generation (a simple semispace scavenge), and a major (fullsweep)
// collection evacuates both generations into a single fresh old generation,
// tenuring every survivor. Literal areas are never copied or rewritten —
// they carry their own term tag (term.TagLiteral) so the collector skips
// them without needing to consult any module's literal area.
package gc

import (
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// Stats reports the outcome of a single collection, for logging/metrics.
type Stats struct {
	Major        bool
	WordsBefore  int
	WordsCopied  int
	BinariesSeen int
}

// Collect runs a single garbage collection on p, choosing minor vs major
// per the process's heap's fullsweep counter (spec.md: "every N minor
// collections, or on demand, perform a fullsweep"). growBy, if positive, is
// additional headroom (in words) the caller knows it will need immediately
// after collection (e.g. the allocating instruction that triggered the
// GC), so the destination generation is sized to have at least that much
// free space beyond the survivors it copies.
func Collect(p *process.Process, growBy int) Stats {
	h := p.Heap
	if h.MinorCycles >= h.FullsweepAfter {
		return collectMajor(p, growBy)
	}
	return collectMinor(p, growBy)
}

// collectMinor evacuates the young generation's live set into a fresh young
// generation, leaving the old generation completely untouched: any boxed
// pointer already resolving into Old is left as-is by the copier.
func collectMinor(p *process.Process, growBy int) Stats {
	h := p.Heap
	before := h.Young.Top

	dst := heap.NewGeneration(sizeHint(before, growBy))
	c := newCopier(dst, h)
	c.from = h.Young

	traceRoots(p, c)
	c.finish()

	h.Young = dst
	h.MinorCycles++

	return Stats{Major: false, WordsBefore: before, WordsCopied: dst.Top, BinariesSeen: c.binariesSeen}
}

// collectMajor evacuates every live word reachable from both generations
// into a single fresh old generation (tenuring every survivor), then
// allocates a fresh, empty young generation.
func collectMajor(p *process.Process, growBy int) Stats {
	h := p.Heap
	before := h.Young.Top + h.Old.Top

	dst := heap.NewGeneration(sizeHint(before, growBy))
	c := newCopier(dst, h)
	c.from = h.Young
	c.fromMajor = h.Old

	traceRoots(p, c)
	c.finish()

	h.Old = dst
	h.Young = heap.NewGeneration(sizeHint(0, growBy))
	h.MinorCycles = 0

	return Stats{Major: true, WordsBefore: before, WordsCopied: dst.Top, BinariesSeen: c.binariesSeen}
}

// sizeHint picks a destination generation capacity comfortably above what
// survived last time plus any immediately-known headroom requirement,
// trading some extra memory for fewer back-to-back collections.
func sizeHint(survivedLastTime, growBy int) int {
	capacity := survivedLastTime + survivedLastTime/2 + growBy + 64
	if capacity < 256 {
		capacity = 256
	}
	return capacity
}

// traceRoots enumerates every GC root a process holds per spec.md's data
// model (X-registers up to NumLive, the call stack, the mailbox, the
// process dictionary, and any in-flight signal payloads) and feeds each
// into the copier, rewriting the root in place once copied.
func traceRoots(p *process.Process, c *copier) {
	for i := 0; i < p.NumLive; i++ {
		p.Registers[i] = c.copy(p.Registers[i])
	}
	for i := range p.Stack {
		p.Stack[i] = c.copy(p.Stack[i])
	}

	snapshot := p.Mailbox.Snapshot()
	rewritten := make([]term.Word, len(snapshot))
	for i, w := range snapshot {
		rewritten[i] = c.copy(w)
	}
	p.Mailbox.Rewrite(rewritten)

	rewrittenDict := make(map[term.Word]term.Word, len(p.Dictionary))
	for k, v := range p.Dictionary {
		rewrittenDict[c.copy(k)] = c.copy(v)
	}
	p.Dictionary = rewrittenDict

	for _, sig := range p.Signals.Drain() {
		sig.Message = c.copy(sig.Message)
		sig.Reason = c.copy(sig.Reason)
		p.Signals.Push(sig)
	}
}
