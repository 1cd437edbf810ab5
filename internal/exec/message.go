package exec

import (
	"github.com/yenrab/iron-beam/internal/gc"
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// copyMessage deep-copies msg out of sender's heap and into dst's heap, per
// spec.md's message-passing rule: every process exclusively owns its heap,
// so a send is never a shared pointer, always a physical copy. Immediates
// (small ints, atoms, pids, refs) and literal-area pointers need no
// copying — literals are shared, read-only, and module-owned for the
// lifetime of the message anyway.
func copyMessage(dst *process.Process, sender *process.Process, msg term.Word) term.Word {
	if !term.IsBoxed(msg) {
		return msg
	}

	n := wordsNeeded(sender, msg)
	if dst.Heap.Young.Slack() < n {
		gc.Collect(dst, n)
	}
	// still insufficient (a pathologically large message): grow directly
	// rather than drop the message, since spec.md guarantees delivery to a
	// live mailbox.
	if dst.Heap.Young.Slack() < n {
		grown := heap.NewGeneration(dst.Heap.Young.Top + n + 64)
		copy(grown.Words, dst.Heap.Young.Words[:dst.Heap.Young.Top])
		grown.Top = dst.Heap.Young.Top
		dst.Heap.Young = grown
	}

	return deepCopyInto(dst, sender, msg)
}

// holdsWordPointers reports whether a boxed value's payload words are
// themselves term.Words that need tracing/copying (tuples, conses, flat
// maps, fun closures) as opposed to raw non-pointer data (bignums, floats,
// inline binaries) that must be copied byte-for-byte without reinterpreting
// it as terms.
func holdsWordPointers(kind term.Kind) bool {
	switch kind {
	case term.KindTuple, term.KindCons, term.KindMapFlat, term.KindFunClosure, term.KindMapHAMT:
		return true
	default:
		return false
	}
}

func wordsNeeded(p *process.Process, w term.Word) int {
	if !term.IsBoxed(w) {
		return 0
	}
	gen, off := p.Heap.Resolve(term.BoxedIndex(w))
	kind, size := term.DecodeHeader(gen.Words[off])
	total := 1 + int(size)
	if holdsWordPointers(kind) {
		for i := 0; i < int(size); i++ {
			total += wordsNeeded(p, gen.Words[off+1+i])
		}
	}
	return total
}

func deepCopyInto(dst *process.Process, src *process.Process, w term.Word) term.Word {
	if !term.IsBoxed(w) {
		return w
	}

	gen, off := src.Heap.Resolve(term.BoxedIndex(w))
	kind, size := term.DecodeHeader(gen.Words[off])

	idx, err := dst.HeapAlloc(1 + int(size))
	if err != nil {
		// caller pre-sized the destination; this should not happen.
		panic("exec: destination heap undersized during message copy: " + err.Error())
	}

	payload := make([]term.Word, size)
	if holdsWordPointers(kind) {
		for i := range payload {
			payload[i] = deepCopyInto(dst, src, gen.Words[off+1+i])
		}
	} else {
		copy(payload, gen.Words[off+1:off+1+int(size)])
		// A refc/sub-binary's first payload word indexes the sender's
		// OffHeapBins; register the binary with dst and point at dst's entry.
		if (kind == term.KindRefcBinary || kind == term.KindSubBinary) && size > 0 {
			if bin, ok := src.BinaryAt(int(term.SmallInt(payload[0]))); ok {
				bin.Retain()
				payload[0] = term.MakeSmallInt(int64(dst.OwnBinary(bin)))
			}
		}
	}

	dst.Heap.Young.Words[idx] = term.EncodeHeader(kind, size)
	copy(dst.Heap.Young.Words[idx+1:idx+1+int(size)], payload)

	return term.MakeBoxed(dst.Heap.EncodeIndex(dst.Heap.Young, idx))
}
