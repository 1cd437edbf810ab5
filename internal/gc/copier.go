package gc

import (
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/term"
)

// copier implements a Cheney-style two-finger copying scan: dst.Top is the
// free pointer (where the next survivor is copied to) and scanned tracks
// how far the "scan" finger has processed; every word between scanned and
// dst.Top is a freshly copied object whose own child pointers still need
// forwarding. Processing continues until scanned catches up with dst.Top.
type copier struct {
	h    *heap.Heap
	dst  *heap.Generation // where all copied survivors land
	old  *heap.Generation // the (untouched, for minor GC) old generation, for Resolve comparisons
	from *heap.Generation // the generation being evacuated (young, for both minor and major)
	fromMajor *heap.Generation // second generation being evacuated, only set for major GC (old)

	// forwarded maps an original encoded boxed index to its new (dst)
	// encoded index, so an object reachable via multiple paths is copied
	// exactly once.
	forwarded map[uint32]uint32

	scanned      int
	binariesSeen int
}

func newCopier(dst *heap.Generation, h *heap.Heap) *copier {
	return &copier{
		h:         h,
		dst:       dst,
		forwarded: make(map[uint32]uint32),
	}
}

// copy forwards a single root/child word: immediates and atoms pass through
// unchanged, literal pointers pass through unchanged (literal areas are
// module-owned and never copied), and boxed pointers into an evacuated
// generation are copied (once) into dst, with a forwarding entry left so
// later references resolve to the same new location.
func (c *copier) copy(w term.Word) term.Word {
	if !term.IsBoxed(w) {
		return w
	}

	srcIdx := term.BoxedIndex(w)
	gen, off := c.h.Resolve(srcIdx)

	if !c.evacuating(gen) {
		// Pointer into a generation this collection isn't moving (the old
		// generation, during a minor GC); left as-is.
		return w
	}

	if newIdx, ok := c.forwarded[srcIdx]; ok {
		return term.MakeBoxed(newIdx)
	}

	kind, size := term.DecodeHeader(gen.Words[off])
	if kind == term.KindMoved {
		// Already evacuated via another path; the header now holds the
		// forwarding address directly.
		return term.MakeBoxed(size)
	}

	newOff := c.dst.Top
	n := int(size) + 1 // header + payload
	c.dst.Top += n
	copy(c.dst.Words[newOff:newOff+n], gen.Words[off:off+n])

	newIdx := c.h.EncodeIndex(c.dst, newOff)
	if c.fromMajor != nil {
		// A major collection's dst becomes h.Old once it finishes, but h.Old
		// still names the generation being evacuated while copying.
		newIdx = heap.OldGenFlag | uint32(newOff)
	}
	c.forwarded[srcIdx] = newIdx

	// Leave a forwarding pointer in from-space: header becomes KindMoved,
	// and (reusing the size field, which is wide enough for a word index)
	// the new location.
	gen.Words[off] = term.EncodeHeader(term.KindMoved, newIdx)

	if kind == term.KindRefcBinary || kind == term.KindSubBinary {
		c.binariesSeen++
	}

	return term.MakeBoxed(newIdx)
}

// evacuating reports whether gen is one of the generations this collection
// is moving objects out of.
func (c *copier) evacuating(gen *heap.Generation) bool {
	return gen == c.from || (c.fromMajor != nil && gen == c.fromMajor)
}

// finish drains the scan queue: every object already copied into dst may
// itself contain pointers that need forwarding, so this walks dst from the
// scan finger to the (possibly still advancing) free finger, rewriting each
// object's child words in place.
func (c *copier) finish() {
	for c.scanned < c.dst.Top {
		kind, size := term.DecodeHeader(c.dst.Words[c.scanned])
		payload := c.dst.Words[c.scanned+1 : c.scanned+1+int(size)]

		switch kind {
		case term.KindTuple, term.KindMapFlat, term.KindFunClosure, term.KindMapHAMT:
			for i := range payload {
				payload[i] = c.copy(payload[i])
			}
		case term.KindCons:
			for i := range payload {
				payload[i] = c.copy(payload[i])
			}
		case term.KindBigInt, term.KindFloat, term.KindHeapBinary,
			term.KindRefcBinary, term.KindSubBinary, term.KindExternalRef:
			// raw payload, no nested term.Word pointers to forward
		}

		c.scanned += 1 + int(size)
	}
}
