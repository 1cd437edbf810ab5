package exec

import "encoding/binary"

// Op is a single bytecode instruction's opcode.
type Op uint8

const (
	OpHalt Op = iota
	OpMoveImmSmall
	OpMoveAtom
	OpMoveNil
	OpMoveReg
	OpMoveLiteral
	OpAllocTuple2
	OpAllocCons
	OpGetElement
	OpGetHead
	OpGetTail
	OpTestEqJump
	OpJump
	OpJumpIfFalseAtom
	OpCallLocal
	OpCallExt
	OpCallFun
	OpReturn
	OpSend
	OpReceiveStart
	OpReceiveMatchAtom
	OpReceiveWait
	OpSpawn
	OpLink
	OpUnlink
	OpMonitor
	OpDemonitor
	OpBif
	OpGCSafepoint
	OpTrapExitSet
	numOps
)

var opNames = [numOps]string{
	OpHalt:              "halt",
	OpMoveImmSmall:      "move_imm_small",
	OpMoveAtom:          "move_atom",
	OpMoveNil:           "move_nil",
	OpMoveReg:           "move_reg",
	OpMoveLiteral:       "move_literal",
	OpAllocTuple2:       "alloc_tuple2",
	OpAllocCons:         "alloc_cons",
	OpGetElement:        "get_element",
	OpGetHead:           "get_head",
	OpGetTail:           "get_tail",
	OpTestEqJump:        "test_eq_jump",
	OpJump:              "jump",
	OpJumpIfFalseAtom:   "jump_if_false_atom",
	OpCallLocal:         "call_local",
	OpCallExt:           "call_ext",
	OpCallFun:           "call_fun",
	OpReturn:            "return",
	OpSend:              "send",
	OpReceiveStart:      "receive_start",
	OpReceiveMatchAtom:  "receive_match_atom",
	OpReceiveWait:       "receive_wait",
	OpSpawn:             "spawn",
	OpLink:              "link",
	OpUnlink:            "unlink",
	OpMonitor:           "monitor",
	OpDemonitor:         "demonitor",
	OpBif:               "bif",
	OpGCSafepoint:       "gc_safepoint",
	OpTrapExitSet:       "trap_exit_set",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "unknown_op"
}

// InstrWidth is the fixed size, in bytes, of every instruction: a one-byte
// opcode followed by three big-endian 32-bit operands. Fixed-width
// instructions keep decode branch-free and IP arithmetic trivial (IP counts
// instruction slots, not bytes), at the cost of wasted space for
// zero/one-operand instructions — an acceptable trade for a bytecode format
// that prioritizes a simple, auditable interpreter loop.
const InstrWidth = 13

// Instr is a single decoded instruction.
type Instr struct {
	Op       Op
	A, B, C  int32
}

// EncodeInstr appends one fixed-width instruction to code.
func EncodeInstr(code []byte, op Op, a, b, c int32) []byte {
	buf := make([]byte, InstrWidth)
	buf[0] = byte(op)
	binary.BigEndian.PutUint32(buf[1:5], uint32(a))
	binary.BigEndian.PutUint32(buf[5:9], uint32(b))
	binary.BigEndian.PutUint32(buf[9:13], uint32(c))
	return append(code, buf...)
}

// DecodeInstr reads the instruction at the given instruction-slot index
// (not byte offset).
func DecodeInstr(code []byte, ip int) (Instr, bool) {
	off := ip * InstrWidth
	if off < 0 || off+InstrWidth > len(code) {
		return Instr{}, false
	}
	return Instr{
		Op: Op(code[off]),
		A:  int32(binary.BigEndian.Uint32(code[off+1 : off+5])),
		B:  int32(binary.BigEndian.Uint32(code[off+5 : off+9])),
		C:  int32(binary.BigEndian.Uint32(code[off+9 : off+13])),
	}, true
}

// NumInstructions reports how many fixed-width instructions fit in code.
func NumInstructions(code []byte) int {
	return len(code) / InstrWidth
}
