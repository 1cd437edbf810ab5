// Package process implements the process object (C2): the unit of
// concurrency and isolation, owning its heap, stack, registers, mailbox,
// and link/monitor sets exclusively.
package process

import (
	"sync"

	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/signaling"
	"github.com/yenrab/iron-beam/internal/term"
)

// Priority is a process's scheduling priority class.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityMax
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityMax:
		return "max"
	default:
		return "unknown"
	}
}

// MaxXRegisters bounds the call-ABI register file size.
const MaxXRegisters = 256

// DefaultYoungHeapWords is the initial young-generation capacity for a
// freshly spawned process.
const DefaultYoungHeapWords = 1 << 10

// DefaultReductionBudget is the default per-scheduling-slot reduction
// allowance (spec.md §4.8 example: 4000).
const DefaultReductionBudget = 4000

// Frame is one return-address stack entry; see Process.Frames.
type Frame struct {
	Code     any
	ReturnIP int
}

// Monitor is a one-way monitor record: {kind, local endpoint, remote
// endpoint, ref}. Outgoing monitors are held by the monitoring process;
// incoming monitors are held by the monitored process so it knows who to
// notify on termination.
type Monitor struct {
	Ref    signaling.Ref
	Target uint32 // the monitored pid (outgoing) or the holder pid (incoming)
}

// SpawnConfig configures a new process at creation time.
type SpawnConfig struct {
	Priority       Priority
	Module         string
	Function       string
	Arity          int
	Args           []term.Word
	GroupLeader    uint32
	YoungHeapWords int
	FullsweepAfter int
}

// Process is the unit of concurrency and isolation: it exclusively owns
// its heap, stack, mailbox, dictionary, and link/monitor sets, exactly per
// spec.md's ownership rules. Cross-process relationships are represented
// only as pids (process-table serials) or monitor refs, never raw
// pointers, so there are no ownership cycles between processes.
type Process struct {
	ID       uint32 // process-table serial
	Priority Priority
	State    *State

	Heap  *heap.Heap
	Stack []term.Word

	Registers  [MaxXRegisters]term.Word
	NumLive    int // number of X-registers currently live, a GC root bound
	IP         int
	Module     string
	Function   string
	Arity      int
	Reductions int

	Mailbox *signaling.Mailbox
	Signals *signaling.SignalQueue

	// CurrentCode holds the *code.Module the engine is presently executing
	// for this process, persisted across scheduler time-slices (a process
	// is data, not a goroutine, so this cannot live on the Go call stack).
	// It is typed as any purely to avoid an import cycle between process
	// and code; internal/exec is the only writer (code.ProcTableSweeper
	// reads it). Apart from the initial entry and a return restoring a
	// caller's frame, it changes only on a cross-module (external) call — a local call or a
	// tail-recursive loop within the same module keeps running whatever
	// version of that module it started in, which is exactly the hot
	// code reload rule: fully-qualified calls see new code, local
	// recursion does not.
	CurrentCode any

	// Frames is the return-address stack: each entry remembers the
	// caller's CurrentCode pointer (not re-resolved by name) and the
	// instruction offset to resume at. Kept separate from the term-level
	// Stack (used for temporaries the bytecode itself manipulates) so a
	// GC never mistakes a return address for a term.
	Frames []Frame

	mu          sync.Mutex
	Links       map[uint32]struct{}   // symmetric link set
	MonitorsOut map[signaling.Ref]uint32 // refs this process created, monitoring others
	MonitorsIn  map[signaling.Ref]uint32 // refs others created, monitoring this process

	GroupLeader uint32
	Dictionary  map[term.Word]term.Word
	TraceFlags  uint32

	OffHeapBins []*heap.RefcBinary

	// PendingDirty names the dirty scheduler pool (0=none, 1=cpu, 2=io;
	// mirrors internal/exec.DirtyClass's encoding, duplicated here rather
	// than imported to avoid a process->exec dependency) a dirty-classified
	// BIF call asked to be redispatched on, set by the engine and consumed
	// by the scheduler.
	PendingDirty uint8

	ExitReason term.Word
	Serial     uint32 // not written by proctab or any other component; the pid word carries ID
}

// New allocates a fresh process per spec.md's spawn lifecycle: a fresh
// heap and the initial call's arguments placed into the register file. The
// instruction pointer stays at zero and CurrentCode nil; the engine resolves
// the target function's entry on the process's first Run. id is
// assigned by the caller (the process table), which owns pid allocation.
func New(id uint32, cfg SpawnConfig) *Process {
	young := cfg.YoungHeapWords
	if young <= 0 {
		young = DefaultYoungHeapWords
	}

	p := &Process{
		ID:          id,
		Priority:    cfg.Priority,
		State:       NewState(),
		Heap:        heap.New(young, cfg.FullsweepAfter),
		Mailbox:     signaling.NewMailbox(),
		Signals:     signaling.NewSignalQueue(),
		Links:       make(map[uint32]struct{}),
		MonitorsOut: make(map[signaling.Ref]uint32),
		MonitorsIn:  make(map[signaling.Ref]uint32),
		GroupLeader: cfg.GroupLeader,
		Dictionary:  make(map[term.Word]term.Word),
		Module:      cfg.Module,
		Function:    cfg.Function,
		Arity:       cfg.Arity,
		Reductions:  DefaultReductionBudget,
	}

	copy(p.Registers[:], cfg.Args)
	p.NumLive = len(cfg.Args)
	p.State.Set(Runnable)

	return p
}

// EnqueueMessage copies term into the process's mailbox ownership and
// wakes it if it is waiting on a receive. The caller (the signaling
// subsystem) is responsible for having already deep-copied the term out of
// the sender's heap.
func (p *Process) EnqueueMessage(msg term.Word) {
	p.Mailbox.Enqueue(msg)
}

// StateTransition attempts an atomic CAS of the whole state bitset from
// want to set. No runtime component calls it; the scheduler and the
// engine change state with State.Set and State.Clear.
func (p *Process) StateTransition(want, set StateBits) bool {
	return p.State.CompareAndSwap(want, set)
}

// HeapAlloc allocates n words from the process's young generation. It
// never moves live data itself; on ErrWouldOverflow the caller must run a
// GC (outside the hot allocation path) and retry.
func (p *Process) HeapAlloc(n int) (int, error) {
	return p.Heap.Alloc(n)
}

// RegisterLink adds peer to the symmetric link set. Links are maintained
// purely as id sets; OpLink calls RegisterLink on both processes directly
// (reaching the peer through the process table), not through a KindLink
// signal.
func (p *Process) RegisterLink(peer uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Links[peer] = struct{}{}
}

// UnregisterLink removes peer from the link set.
func (p *Process) UnregisterLink(peer uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Links, peer)
}

// LinkedPeers returns a snapshot of every currently linked pid.
func (p *Process) LinkedPeers() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint32, 0, len(p.Links))
	for peer := range p.Links {
		out = append(out, peer)
	}
	return out
}

// RegisterMonitorOut records that this process is now monitoring target
// via ref.
func (p *Process) RegisterMonitorOut(ref signaling.Ref, target uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MonitorsOut[ref] = target
}

// RegisterMonitorIn records that holder is now monitoring this process via
// ref.
func (p *Process) RegisterMonitorIn(ref signaling.Ref, holder uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MonitorsIn[ref] = holder
}

// ClearMonitorOut removes an outgoing monitor (demonitor, or after its
// single DOWN has fired).
func (p *Process) ClearMonitorOut(ref signaling.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.MonitorsOut, ref)
}

// ClearMonitorIn removes an incoming monitor.
func (p *Process) ClearMonitorIn(ref signaling.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.MonitorsIn, ref)
}

// MonitorsInSnapshot returns a snapshot of every ref currently monitoring
// this process, for exit-time DOWN delivery.
func (p *Process) MonitorsInSnapshot() map[signaling.Ref]uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[signaling.Ref]uint32, len(p.MonitorsIn))
	for k, v := range p.MonitorsIn {
		out[k] = v
	}
	return out
}

// RetainBinary registers an off-heap binary reference owned (in part) by
// this process's heap, incrementing its refcount.
func (p *Process) RetainBinary(b *heap.RefcBinary) {
	b.Retain()
	p.mu.Lock()
	p.OffHeapBins = append(p.OffHeapBins, b)
	p.mu.Unlock()
}

// OwnBinary registers b (already at refcount one, owned by the caller, per
// heap.NewRefcBinary's doc comment) as owned by this process without an
// additional Retain, returning its index into OffHeapBins. Used when this
// process itself just constructed b, as opposed to RetainBinary's case of
// adopting a reference an existing owner already holds.
func (p *Process) OwnBinary(b *heap.RefcBinary) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.OffHeapBins)
	p.OffHeapBins = append(p.OffHeapBins, b)
	return idx
}

// BinaryAt returns the off-heap binary previously registered at idx by
// OwnBinary/RetainBinary.
func (p *Process) BinaryAt(idx int) (*heap.RefcBinary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.OffHeapBins) {
		return nil, false
	}
	return p.OffHeapBins[idx], true
}
