// Package heap implements the per-process copying heap arena described by
// the term-representation component: a contiguous, bump-pointer-allocated
// region of words, with an optional old generation, grown and compacted
// exclusively by the garbage collector package.
package heap

import (
	"errors"

	"github.com/yenrab/iron-beam/internal/term"
)

// ErrWouldOverflow is returned by Alloc when the young generation has
// insufficient slack; the caller (the execution engine) must trigger a GC
// and retry, never grow the heap mid-allocation.
var ErrWouldOverflow = errors.New("heap: allocation would overflow young generation")

// Generation is a single contiguous, bump-pointer-allocated region of words.
type Generation struct {
	Words []term.Word
	Top   int // bump pointer / compacted frontier
}

// NewGeneration allocates a generation with the given word capacity.
func NewGeneration(capacity int) *Generation {
	return &Generation{Words: make([]term.Word, capacity)}
}

// Slack reports the number of free words remaining.
func (g *Generation) Slack() int {
	return len(g.Words) - g.Top
}

// Alloc bump-allocates n words, returning the starting index. It never
// moves or resizes g; ErrWouldOverflow signals the caller must GC first.
func (g *Generation) Alloc(n int) (int, error) {
	if n < 0 {
		panic("heap: negative allocation size")
	}
	if g.Slack() < n {
		return 0, ErrWouldOverflow
	}
	idx := g.Top
	g.Top += n
	return idx, nil
}

// Reset rewinds the bump pointer to zero, used when installing a freshly
// swapped-in to-space after a collection.
func (g *Generation) Reset() {
	g.Top = 0
}

// OldGenFlag is set in a boxed term's 32-bit index to mark it as addressing
// the old generation rather than the young one; the remaining 31 bits are
// the word offset within whichever generation the flag selects. This lets a
// term.Word boxed pointer address either generation without needing to know
// which one at encode time — Heap.Resolve does the dispatch at trace/deref
// time. Literal-area pointers never reach Resolve: they carry their own
// tag (term.TagLiteral).
const OldGenFlag = uint32(1) << 31

// EncodeIndex packs a generation-relative word index into the 32-bit form a
// boxed term.Word stores, tagging it with which generation it addresses.
func (h *Heap) EncodeIndex(gen *Generation, idx int) uint32 {
	if gen == h.Old {
		return OldGenFlag | uint32(idx)
	}
	return uint32(idx)
}

// Resolve unpacks a boxed term.Word's index into the generation it
// addresses and the offset within that generation.
func (h *Heap) Resolve(boxedIdx uint32) (*Generation, int) {
	if boxedIdx&OldGenFlag != 0 {
		return h.Old, int(boxedIdx &^ OldGenFlag)
	}
	return h.Young, int(boxedIdx)
}

// Heap is a process's private copying heap: a young generation that every
// allocation targets, and an optional old generation that survivors are
// promoted into by the collector.
type Heap struct {
	Young *Generation
	Old   *Generation

	// FullsweepAfter is the number of minor cycles after which the next
	// collection is a major one that promotes every survivor to Old
	// (config: fullsweep_after). Promotion is not tracked per object: a
	// minor collection never promotes.
	FullsweepAfter int

	// MinorCycles counts completed minor collections, used to decide when
	// a major (fullsweep) collection is due.
	MinorCycles int

	// SurvivorAge is a per-object survival-count map keyed by header-word
	// index. New allocates it empty; the collector neither reads nor
	// updates it.
	SurvivorAge map[int]int
}

// New creates a process heap with the given young-generation capacity.
// The old generation starts empty and grows on first promotion.
func New(youngCapacity int, fullsweepAfter int) *Heap {
	if fullsweepAfter <= 0 {
		fullsweepAfter = 16
	}
	return &Heap{
		Young:          NewGeneration(youngCapacity),
		Old:            NewGeneration(0),
		FullsweepAfter: fullsweepAfter,
		SurvivorAge:    make(map[int]int),
	}
}

// Alloc allocates n words from the young generation. Returns
// ErrWouldOverflow if there is insufficient slack; the execution engine is
// required to have tested available slack before any instruction that may
// allocate, and to run a GC (via the gc package) at that safe point instead
// of calling Alloc speculatively past the guard.
func (h *Heap) Alloc(n int) (int, error) {
	return h.Young.Alloc(n)
}

// WriteTuple writes a tuple header plus its element words starting at idx
// (in the young generation), returning the boxed term referencing it. idx
// must have been obtained from Alloc(1+len(elems)).
func (h *Heap) WriteTuple(idx int, elems []term.Word) term.Word {
	return h.WriteTupleIn(h.Young, idx, elems)
}

// WriteTupleIn is WriteTuple generalized to an explicit generation, used by
// the collector when copying a survivor directly into a promotion target.
func (h *Heap) WriteTupleIn(gen *Generation, idx int, elems []term.Word) term.Word {
	gen.Words[idx] = term.EncodeHeader(term.KindTuple, uint32(len(elems)))
	copy(gen.Words[idx+1:idx+1+len(elems)], elems)
	return term.MakeBoxed(h.EncodeIndex(gen, idx))
}

// WriteCons writes a cons cell (head, tail) at idx in the young generation
// (a header word plus two payload words) and returns the boxed term
// referencing it. idx must have been obtained from Alloc(3).
//
// Cons cells are distinguished from other boxed kinds by a header word too,
// trading one extra word for uniform GC tracing (spec.md allows either
// convention; a single discriminated header for every boxed kind keeps the
// collector's walk simple and branch-free).
func (h *Heap) WriteCons(idx int, head, tail term.Word) term.Word {
	return h.WriteConsIn(h.Young, idx, head, tail)
}

// WriteConsIn is WriteCons generalized to an explicit generation.
func (h *Heap) WriteConsIn(gen *Generation, idx int, head, tail term.Word) term.Word {
	gen.Words[idx] = term.EncodeHeader(term.KindCons, 2)
	gen.Words[idx+1] = head
	gen.Words[idx+2] = tail
	return term.MakeBoxed(h.EncodeIndex(gen, idx))
}
