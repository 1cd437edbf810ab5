package code

import (
	"encoding/binary"
	"fmt"

	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/term"
)

// ExportKey identifies an exported function by name and arity, the unit a
// call instruction resolves against.
type ExportKey struct {
	Function string
	Arity    int
}

// Import is an external call site: the module/function/arity a Code chunk
// refers to, resolved against the registry's current export tables at call
// time (never bound at load time, so hot code reload propagates).
type Import struct {
	Module   string
	Function string
	Arity    int
}

// FunEntry describes one local fun (closure) literal: its entry offset
// within Code, arity, and the number of free variables it captures.
type FunEntry struct {
	EntryOffset int
	Arity       int
	NumFree     int
	Index       uint32 // index within FunT, as referenced by OpCallFun's operand B
}

// Module is one loaded, validated code unit: a fully self-contained
// instruction stream plus its literal area, export table, import list, and
// fun table. It never references another module's memory directly; calls
// cross modules only through (module, function, arity) lookups performed by
// the Registry at call time.
type Module struct {
	Name string

	Code []byte // raw instruction stream, opcode-addressed by internal/exec

	Exports map[ExportKey]int // function/arity -> entry offset into Code
	Imports []Import          // index matches the operand encoded in call_ext instructions
	Funs    []FunEntry

	Literals *heap.LiteralArea
	Strings  []byte // raw UTF-8 blob; string literals are (offset, length) pairs into this

	// Atoms are the atom names referenced by this module, already interned
	// into the runtime-global AtomTable by the loader; kept here only so
	// Module.AtomIndex can translate a module-local atom table index (as
	// encoded in Code) into the global index without re-parsing AtU8.
	atomGlobalIndex []uint32
}

// SetAtomMapping installs the module-local-index -> global-atom-index
// table directly, for callers that build a Module without going through
// Loader.Load (tests, or a future in-process assembler that already knows
// global atom indices).
func (m *Module) SetAtomMapping(mapping []uint32) {
	m.atomGlobalIndex = mapping
}

// AtomIndex translates a module-local atom index (as encoded in bytecode
// operands) to the runtime-global atom table index.
func (m *Module) AtomIndex(localIdx uint32) (uint32, error) {
	if int(localIdx) >= len(m.atomGlobalIndex) {
		return 0, fmt.Errorf("code: atom index %d out of range for module %q", localIdx, m.Name)
	}
	return m.atomGlobalIndex[localIdx], nil
}

// EntryPoint resolves a local export to its code offset.
func (m *Module) EntryPoint(function string, arity int) (int, bool) {
	off, ok := m.Exports[ExportKey{Function: function, Arity: arity}]
	return off, ok
}

// atomTable is the minimal interface module.go needs from term.AtomTable,
// kept narrow so tests can substitute a fake.
type atomTable interface {
	Intern(name string) uint32
}

// parseAtomChunk decodes AtU8: a count followed by that many
// length-prefixed UTF-8 atom names, interning each into the global table and
// returning the module-local-index -> global-index mapping.
func parseAtomChunk(payload []byte, atoms atomTable) ([]uint32, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("code: AtU8 chunk too short")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	off := 4
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+1 > len(payload) {
			return nil, fmt.Errorf("code: AtU8 truncated at atom %d", i)
		}
		nameLen := int(payload[off])
		off++
		if off+nameLen > len(payload) {
			return nil, fmt.Errorf("code: AtU8 truncated name at atom %d", i)
		}
		name := string(payload[off : off+nameLen])
		off += nameLen
		out = append(out, atoms.Intern(name))
	}
	return out, nil
}

// parseExportChunk decodes ExpT: a count followed by (function atom index,
// arity uint8, entry offset uint32) triples, with the function name already
// resolved via localAtoms.
func parseExportChunk(payload []byte, localAtoms []uint32, atoms *term.AtomTable) (map[ExportKey]int, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("code: ExpT chunk too short")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	off := 4
	out := make(map[ExportKey]int, count)
	for i := uint32(0); i < count; i++ {
		if off+9 > len(payload) {
			return nil, fmt.Errorf("code: ExpT truncated at export %d", i)
		}
		atomIdx := binary.BigEndian.Uint32(payload[off : off+4])
		arity := int(payload[off+4])
		entry := int(binary.BigEndian.Uint32(payload[off+5 : off+9]))
		off += 9

		if int(atomIdx) >= len(localAtoms) {
			return nil, fmt.Errorf("code: ExpT export %d references out-of-range atom %d", i, atomIdx)
		}
		name := atoms.Name(localAtoms[atomIdx])
		out[ExportKey{Function: name, Arity: arity}] = entry
	}
	return out, nil
}

// parseImportChunk decodes ImpT: a count followed by (module atom index,
// function atom index, arity uint8) triples.
func parseImportChunk(payload []byte, localAtoms []uint32, atoms *term.AtomTable) ([]Import, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("code: ImpT chunk too short")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	off := 4
	out := make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+9 > len(payload) {
			return nil, fmt.Errorf("code: ImpT truncated at import %d", i)
		}
		modIdx := binary.BigEndian.Uint32(payload[off : off+4])
		funIdx := binary.BigEndian.Uint32(payload[off+4 : off+8])
		arity := int(payload[off+8])
		off += 9

		if int(modIdx) >= len(localAtoms) || int(funIdx) >= len(localAtoms) {
			return nil, fmt.Errorf("code: ImpT import %d references out-of-range atom", i)
		}
		out = append(out, Import{
			Module:   atoms.Name(localAtoms[modIdx]),
			Function: atoms.Name(localAtoms[funIdx]),
			Arity:    arity,
		})
	}
	return out, nil
}

// parseFunChunk decodes FunT: a count followed by (entry offset uint32,
// arity uint8, num-free uint8) tuples.
func parseFunChunk(payload []byte) ([]FunEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("code: FunT chunk too short")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	off := 4
	out := make([]FunEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+6 > len(payload) {
			return nil, fmt.Errorf("code: FunT truncated at fun %d", i)
		}
		entry := int(binary.BigEndian.Uint32(payload[off : off+4]))
		arity := int(payload[off+4])
		numFree := int(payload[off+5])
		off += 6
		out = append(out, FunEntry{EntryOffset: entry, Arity: arity, NumFree: numFree, Index: i})
	}
	return out, nil
}

// parseLiteralChunk decodes LitT into a heap.LiteralArea. The encoding is a
// count-prefixed sequence of pre-tagged terms.Word values (big-endian
// uint64), already laid out by the compiler in final heap order — ember's
// loader does not re-encode terms and does not check literal indices at
// load time; the engine bounds-checks a literal index when it executes it.
func parseLiteralChunk(payload []byte) (*heap.LiteralArea, error) {
	if len(payload)%8 != 0 {
		return nil, fmt.Errorf("code: LitT chunk not a multiple of word size")
	}
	words := make([]term.Word, len(payload)/8)
	for i := range words {
		words[i] = term.Word(binary.BigEndian.Uint64(payload[i*8 : i*8+8]))
	}
	return heap.NewLiteralArea(words), nil
}
