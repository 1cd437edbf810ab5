package exec

import (
	"encoding/binary"

	"github.com/yenrab/iron-beam/internal/gc"
	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/term"
)

// The external term format below backs term_to_binary/binary_to_term, per
// spec.md §8's S6 scenario: any term reachable from term_to_binary's
// argument is flattened into an owned, off-heap RefcBinary, and
// binary_to_term rebuilds an equal term from it later, including after the
// binary has been copied by the collector or carried across a message
// send.
//
// The tagged-byte format is hand-rolled in the same style
// internal/exec/opcode.go uses for bytecode (a fixed tag byte plus
// big-endian fields), not a general-purpose serialization library: it only
// ever needs to round-trip this runtime's own handful of term shapes, and
// every other codec in this codebase (instruction words, term headers) is
// written the same way rather than reached from a library.
const (
	tagBinSmallInt byte = iota
	tagBinAtom
	tagBinNil
	tagBinPid
	tagBinRef
	tagBinCons
	tagBinTuple
)

func termToBinaryBIFs() []*BIF {
	return []*BIF{
		{
			Name: "term_to_binary", Arity: 1, Dirty: DirtyNone,
			Cost: constCost(8),
			Fn: func(ctx *CallContext, args []term.Word) (term.Word, error) {
				enc := &termEncoder{p: ctx.Process, atoms: ctx.Runtime.Atoms}
				if err := enc.encode(args[0]); err != nil {
					return term.Nil, err
				}
				return allocRefcBinary(ctx.Process, enc.buf)
			},
		},
		{
			Name: "binary_to_term", Arity: 1, Dirty: DirtyNone,
			Cost: constCost(8),
			Fn: func(ctx *CallContext, args []term.Word) (term.Word, error) {
				data, ok := resolveBinaryBytes(ctx.Process, args[0])
				if !ok {
					return term.Nil, ErrBadArg
				}

				// Reserve every word the whole decoded structure will need
				// up front, so no collection runs partway through decode:
				// a cons or tuple built bottom-up would otherwise hold
				// already-allocated child terms in plain Go locals, which
				// are not GC roots and would dangle across a mid-decode
				// collection.
				need, next, err := measureTermBytes(data, 0)
				if err != nil || next != len(data) {
					return term.Nil, ErrBadArg
				}
				if need > 0 && ctx.Process.Heap.Young.Slack() < need {
					gc.Collect(ctx.Process, need)
				}

				dec := &termDecoder{p: ctx.Process, atoms: ctx.Runtime.Atoms, buf: data}
				w, err := dec.decode()
				if err != nil {
					return term.Nil, err
				}
				if dec.pos != len(dec.buf) {
					return term.Nil, ErrBadArg
				}
				return w, nil
			},
		},
	}
}

// allocRefcBinary wraps data in a freshly owned RefcBinary and boxes it on
// p's heap as a KindRefcBinary term: the single payload word is a small-int
// index into p.OffHeapBins, never a raw Go pointer. A raw pointer there
// would be invisible to both Go's own collector and to gc.copier's
// verbatim word-for-word copy of boxed payloads, which is only safe because
// every payload word it moves is an opaque value, not a reference the
// mover itself must follow.
func allocRefcBinary(p *process.Process, data []byte) (term.Word, error) {
	bin := heap.NewRefcBinary(data)
	idx := p.OwnBinary(bin)

	const need = 2 // header + one payload word
	if p.Heap.Young.Slack() < need {
		gc.Collect(p, need)
	}
	base, err := p.HeapAlloc(need)
	if err != nil {
		return term.Nil, err
	}
	p.Heap.Young.Words[base] = term.EncodeHeader(term.KindRefcBinary, 1)
	p.Heap.Young.Words[base+1] = term.MakeSmallInt(int64(idx))
	return term.MakeBoxed(p.Heap.EncodeIndex(p.Heap.Young, base)), nil
}

// resolveBinaryBytes returns the raw bytes a KindRefcBinary or
// KindSubBinary boxed term addresses. Only process-heap boxed pointers are
// supported, matching the same simplification listLength already makes for
// cons cells: a literal-area binary constant has no BIF path to reach this
// code today.
func resolveBinaryBytes(p *process.Process, w term.Word) ([]byte, bool) {
	if !term.IsBoxed(w) {
		return nil, false
	}
	gen, off := p.Heap.Resolve(term.BoxedIndex(w))
	kind, _ := term.DecodeHeader(gen.Words[off])
	switch kind {
	case term.KindRefcBinary:
		idx := int(term.SmallInt(gen.Words[off+1]))
		bin, ok := p.BinaryAt(idx)
		if !ok {
			return nil, false
		}
		return bin.Data, true
	case term.KindSubBinary:
		idx := int(term.SmallInt(gen.Words[off+1]))
		offset := int(term.SmallInt(gen.Words[off+2]))
		ln := int(term.SmallInt(gen.Words[off+3]))
		bin, ok := p.BinaryAt(idx)
		if !ok {
			return nil, false
		}
		sub := heap.SubBinary{Parent: bin, Offset: offset, Ln: ln}
		return sub.Bytes(), true
	default:
		return nil, false
	}
}

// termEncoder flattens a term reachable from p's heap into the tagged
// external byte format, following a process-heap boxed pointer wherever it
// leads (the same literal-area simplification resolveBinaryBytes and
// listLength already make applies here too).
type termEncoder struct {
	p     *process.Process
	atoms *term.AtomTable
	buf   []byte
}

func (e *termEncoder) encode(w term.Word) error {
	switch {
	case term.IsSmallInt(w):
		e.buf = append(e.buf, tagBinSmallInt)
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(term.SmallInt(w)))
		return nil

	case term.IsAtom(w):
		name := e.atoms.Name(term.AtomIndex(w))
		if len(name) > 0xFFFF {
			return ErrBadArg
		}
		e.buf = append(e.buf, tagBinAtom)
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(name)))
		e.buf = append(e.buf, name...)
		return nil

	case term.IsNil(w):
		e.buf = append(e.buf, tagBinNil)
		return nil

	case term.IsPid(w):
		e.buf = append(e.buf, tagBinPid)
		e.buf = binary.BigEndian.AppendUint32(e.buf, term.PidSerial(w))
		return nil

	case term.IsRef(w):
		e.buf = append(e.buf, tagBinRef)
		e.buf = binary.BigEndian.AppendUint64(e.buf, term.RefCounter(w))
		return nil

	case term.IsBoxed(w):
		gen, off := e.p.Heap.Resolve(term.BoxedIndex(w))
		kind, size := term.DecodeHeader(gen.Words[off])
		switch kind {
		case term.KindCons:
			e.buf = append(e.buf, tagBinCons)
			if err := e.encode(gen.Words[off+1]); err != nil {
				return err
			}
			return e.encode(gen.Words[off+2])

		case term.KindTuple:
			if size > 0xFF {
				return ErrBadArg
			}
			e.buf = append(e.buf, tagBinTuple, byte(size))
			for i := uint32(0); i < size; i++ {
				if err := e.encode(gen.Words[off+1+int(i)]); err != nil {
					return err
				}
			}
			return nil

		default:
			return ErrBadArg
		}

	default:
		return ErrBadArg
	}
}

// termDecoder is termEncoder's inverse, allocating every boxed result
// directly on p's heap.
type termDecoder struct {
	p     *process.Process
	atoms *term.AtomTable
	buf   []byte
	pos   int
}

func (d *termDecoder) decode() (term.Word, error) {
	if d.pos >= len(d.buf) {
		return term.Nil, ErrBadArg
	}
	tag := d.buf[d.pos]
	d.pos++

	switch tag {
	case tagBinSmallInt:
		v, err := d.readUint64()
		if err != nil {
			return term.Nil, err
		}
		return term.MakeSmallInt(int64(v)), nil

	case tagBinAtom:
		n, err := d.readUint16()
		if err != nil {
			return term.Nil, err
		}
		if d.pos+int(n) > len(d.buf) {
			return term.Nil, ErrBadArg
		}
		name := string(d.buf[d.pos : d.pos+int(n)])
		d.pos += int(n)
		return term.MakeAtom(d.atoms.Intern(name)), nil

	case tagBinNil:
		return term.Nil, nil

	case tagBinPid:
		v, err := d.readUint32()
		if err != nil {
			return term.Nil, err
		}
		return term.MakePid(v), nil

	case tagBinRef:
		v, err := d.readUint64()
		if err != nil {
			return term.Nil, err
		}
		return term.MakeRef(v), nil

	case tagBinCons:
		head, err := d.decode()
		if err != nil {
			return term.Nil, err
		}
		tail, err := d.decode()
		if err != nil {
			return term.Nil, err
		}
		return d.allocCons(head, tail)

	case tagBinTuple:
		if d.pos >= len(d.buf) {
			return term.Nil, ErrBadArg
		}
		n := int(d.buf[d.pos])
		d.pos++
		elems := make([]term.Word, n)
		for i := range elems {
			w, err := d.decode()
			if err != nil {
				return term.Nil, err
			}
			elems[i] = w
		}
		return d.allocTuple(elems)

	default:
		return term.Nil, ErrBadArg
	}
}

func (d *termDecoder) readUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, ErrBadArg
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *termDecoder) readUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, ErrBadArg
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *termDecoder) readUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, ErrBadArg
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos : d.pos+2])
	d.pos += 2
	return v, nil
}

// allocCons and allocTuple assume the caller (binary_to_term's Fn) has
// already reserved enough slack for the entire decoded structure via
// measureTermBytes; triggering a collection here, partway through a
// bottom-up decode, would leave already-built child terms dangling in
// plain Go locals that no GC root traces.
func (d *termDecoder) allocCons(head, tail term.Word) (term.Word, error) {
	idx, err := d.p.HeapAlloc(3)
	if err != nil {
		return term.Nil, err
	}
	return d.p.Heap.WriteCons(idx, head, tail), nil
}

func (d *termDecoder) allocTuple(elems []term.Word) (term.Word, error) {
	idx, err := d.p.HeapAlloc(len(elems) + 1)
	if err != nil {
		return term.Nil, err
	}
	return d.p.Heap.WriteTuple(idx, elems), nil
}

// measureTermBytes walks one encoded term starting at pos without
// allocating, returning the total process-heap words its decode will
// consume and the position just past it.
func measureTermBytes(buf []byte, pos int) (words int, next int, err error) {
	if pos >= len(buf) {
		return 0, 0, ErrBadArg
	}
	tag := buf[pos]
	pos++

	switch tag {
	case tagBinSmallInt, tagBinRef:
		if pos+8 > len(buf) {
			return 0, 0, ErrBadArg
		}
		return 0, pos + 8, nil

	case tagBinAtom:
		if pos+2 > len(buf) {
			return 0, 0, ErrBadArg
		}
		n := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if pos+n > len(buf) {
			return 0, 0, ErrBadArg
		}
		return 0, pos + n, nil

	case tagBinNil:
		return 0, pos, nil

	case tagBinPid:
		if pos+4 > len(buf) {
			return 0, 0, ErrBadArg
		}
		return 0, pos + 4, nil

	case tagBinCons:
		headWords, pos2, err := measureTermBytes(buf, pos)
		if err != nil {
			return 0, 0, err
		}
		tailWords, pos3, err := measureTermBytes(buf, pos2)
		if err != nil {
			return 0, 0, err
		}
		return 3 + headWords + tailWords, pos3, nil

	case tagBinTuple:
		if pos >= len(buf) {
			return 0, 0, ErrBadArg
		}
		n := int(buf[pos])
		pos++
		total := n + 1
		for i := 0; i < n; i++ {
			w, next, err := measureTermBytes(buf, pos)
			if err != nil {
				return 0, 0, err
			}
			total += w
			pos = next
		}
		return total, pos, nil

	default:
		return 0, 0, ErrBadArg
	}
}
