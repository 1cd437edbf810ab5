package process

import "github.com/yenrab/iron-beam/internal/fastatomic"

// StateBits are the independent flags making up a process's state bitset,
// per spec.md's data model: "state bitset (runnable, running, waiting,
// exiting, in-run-queue, gc-in-progress, trap-exit, suspended,
// dirty-running)".
type StateBits uint32

const (
	Runnable StateBits = 1 << iota
	Running
	Waiting
	Exiting
	InRunQueue
	GCInProgress
	TrapExit
	Suspended
	DirtyRunning
	Terminated
)

func (s StateBits) String() string {
	if s == 0 {
		return "initial"
	}
	names := []struct {
		bit  StateBits
		name string
	}{
		{Runnable, "runnable"},
		{Running, "running"},
		{Waiting, "waiting"},
		{Exiting, "exiting"},
		{InRunQueue, "in_run_queue"},
		{GCInProgress, "gc_in_progress"},
		{TrapExit, "trap_exit"},
		{Suspended, "suspended"},
		{DirtyRunning, "dirty_running"},
		{Terminated, "terminated"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "unknown"
	}
	return out
}

// State is the atomic bitset backing a single process's state, grounded on
// fastatomic.Bitset (itself grounded on the teacher package's FastState
// CAS discipline).
type State struct {
	bits *fastatomic.Bitset
}

// NewState creates a process state machine in the initial (zero) state.
func NewState() *State {
	return &State{bits: fastatomic.NewBitset(0)}
}

// Load returns the current bitset.
func (s *State) Load() StateBits {
	return StateBits(s.bits.Load())
}

// Set atomically ORs in bits.
func (s *State) Set(bits StateBits) StateBits {
	return StateBits(s.bits.Set(uint32(bits)))
}

// Clear atomically ANDs out bits.
func (s *State) Clear(bits StateBits) StateBits {
	return StateBits(s.bits.Clear(uint32(bits)))
}

// Has reports whether every bit in bits is currently set.
func (s *State) Has(bits StateBits) bool {
	return s.bits.Has(uint32(bits))
}

// CompareAndSwap atomically transitions the whole bitset from old to new.
// Its only caller is Process.StateTransition; the scheduler's dispatch
// clears Runnable|InRunQueue and sets Running as two separate atomic steps.
func (s *State) CompareAndSwap(old, new StateBits) bool {
	return s.bits.CompareAndSwap(uint32(old), uint32(new))
}
