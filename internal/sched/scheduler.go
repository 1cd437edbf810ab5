// Package sched implements the scheduler (C8): a fixed pool of OS threads,
// each owning four priority run queues, work-stealing between threads, a
// sleep/condvar parking discipline, and a pair of dirty-scheduler pools for
// long-running/blocking BIF calls. Each dirty dispatch is recorded with
// DirtyGate; the gate's answer neither delays nor refuses the dispatch.
package sched

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/signaling"
	"github.com/yenrab/iron-beam/internal/term"
)

// DefaultReductionBudget matches spec.md §4.8's example scheduling slice.
const DefaultReductionBudget = process.DefaultReductionBudget

// Config configures a Scheduler.
type Config struct {
	// Threads is the number of normal scheduler OS threads; 0 selects
	// runtime.GOMAXPROCS(0) (the caller is expected to have already called
	// maxprocs.Set, as ironbeam.Initialize does, so this reflects a
	// container's CPU quota rather than the host's full core count).
	Threads int
	// ReductionBudget is the per-dispatch reduction allowance; 0 selects
	// DefaultReductionBudget.
	ReductionBudget int
	// DirtyCPUWorkers/DirtyIOWorkers size the two dirty pools; 0 selects 1
	// each (dirty work is rarer and coarser-grained than normal work, so a
	// small fixed pool is the spec.md-documented default posture).
	DirtyCPUWorkers, DirtyIOWorkers int
	// DirtyRates configures DirtyGate; nil selects DefaultDirtyRates.
	DirtyRates map[time.Duration]int
}

func (c Config) normalize() Config {
	if c.Threads <= 0 {
		c.Threads = runtime.GOMAXPROCS(0)
	}
	if c.ReductionBudget <= 0 {
		c.ReductionBudget = DefaultReductionBudget
	}
	if c.DirtyCPUWorkers <= 0 {
		c.DirtyCPUWorkers = 1
	}
	if c.DirtyIOWorkers <= 0 {
		c.DirtyIOWorkers = 1
	}
	if c.DirtyRates == nil {
		c.DirtyRates = DefaultDirtyRates()
	}
	return c
}

// worker is one normal scheduler thread's state.
type worker struct {
	id     int
	sched  *Scheduler
	mu     sync.Mutex
	cond   *sync.Cond
	queues priorityQueues
	sleepy bool
	rng    *rand.Rand
}

// Scheduler is the runtime-wide collection of normal and dirty scheduler
// threads, plus the gate recording dispatches into the dirty pools.
type Scheduler struct {
	cfg     Config
	engine  *exec.Engine
	procs   *proctab.Table
	workers []*worker

	dirtyCPU *dirtyPool
	dirtyIO  *dirtyPool
	gate     *DirtyGate

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	next atomic.Uint64 // round-robins Enqueue across workers
}

// New creates a Scheduler bound to engine and procs, with worker and dirty
// pool goroutines not yet started (call Start).
func New(engine *exec.Engine, procs *proctab.Table, cfg Config) *Scheduler {
	cfg = cfg.normalize()
	s := &Scheduler{
		cfg:    cfg,
		engine: engine,
		procs:  procs,
		stop:   make(chan struct{}),
		gate:   NewDirtyGate(cfg.DirtyRates),
	}
	s.workers = make([]*worker, cfg.Threads)
	for i := range s.workers {
		w := &worker{id: i, sched: s, rng: rand.New(rand.NewSource(int64(i) + 1))}
		w.cond = sync.NewCond(&w.mu)
		s.workers[i] = w
	}
	s.dirtyCPU = newDirtyPool(s, DirtyCPU, cfg.DirtyCPUWorkers)
	s.dirtyIO = newDirtyPool(s, DirtyIO, cfg.DirtyIOWorkers)
	return s
}

// Start launches every normal and dirty worker goroutine.
func (s *Scheduler) Start() {
	for _, w := range s.workers {
		s.wg.Add(1)
		go w.loop()
	}
	s.dirtyCPU.start()
	s.dirtyIO.start()
}

// Stop signals every worker to exit its loop and waits for the worker
// goroutines to return. Processes still in the run queues are left there
// unrun. Already-running dispatches are allowed to finish their current
// reduction slice; Stop does not preempt mid-instruction.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	for _, w := range s.workers {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	}
	s.wg.Wait()
	s.dirtyCPU.stop()
	s.dirtyIO.stop()
}

// Enqueue admits p for scheduling, assigning it to a worker (round-robin
// on first admission; a process always returns to the same worker's
// queues afterward, since Process carries no "home worker" field of its
// own — sched tracks that purely by always re-pushing from whichever
// worker most recently ran it).
func (s *Scheduler) Enqueue(p *process.Process) {
	idx := int(s.next.Add(1) % uint64(len(s.workers)))
	s.enqueueOn(idx, p)
}

func (s *Scheduler) enqueueOn(idx int, p *process.Process) {
	w := s.workers[idx]
	p.State.Clear(process.Waiting)
	p.State.Set(process.Runnable | process.InRunQueue)

	w.mu.Lock()
	w.queues.push(p)
	wasSleepy := w.sleepy
	w.sleepy = false
	w.mu.Unlock()
	if wasSleepy {
		w.cond.Signal()
	}
}

// loop is one normal scheduler thread's run loop: pop with priority bias,
// else steal, else sleep.
func (w *worker) loop() {
	defer w.sched.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-w.sched.stop:
			return
		default:
		}

		p, ok := w.popLocal()
		if !ok {
			p, ok = w.steal()
		}
		if !ok {
			if w.park() {
				return
			}
			continue
		}

		w.dispatch(p)
	}
}

func (w *worker) popLocal() (*process.Process, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queues.pop(w.rng)
}

// steal tries every other worker exactly once, starting from a random
// offset, taking the first non-max-priority process it finds.
func (w *worker) steal() (*process.Process, bool) {
	n := len(w.sched.workers)
	if n <= 1 {
		return nil, false
	}
	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == w.id {
			continue
		}
		peer := w.sched.workers[idx]
		peer.mu.Lock()
		p, ok := w.queues.stealFrom(&peer.queues)
		peer.mu.Unlock()
		if ok {
			return p, true
		}
	}
	return nil, false
}

// park blocks until woken by an enqueue or Stop, returning true if the
// scheduler is stopping.
func (w *worker) park() bool {
	w.mu.Lock()
	w.sleepy = true
	for w.sleepy {
		select {
		case <-w.sched.stop:
			w.mu.Unlock()
			return true
		default:
		}
		w.cond.Wait()
	}
	w.mu.Unlock()
	select {
	case <-w.sched.stop:
		return true
	default:
		return false
	}
}

// dispatch runs one reduction slice for p and acts on the verdict.
func (w *worker) dispatch(p *process.Process) {
	p.State.Clear(process.Runnable | process.InRunQueue)
	p.State.Set(process.Running)

	verdict := w.sched.engine.Run(p, w.sched.cfg.ReductionBudget)

	p.State.Clear(process.Running)

	switch verdict {
	case exec.VerdictYield:
		w.sched.enqueueOn(w.id, p)

	case exec.VerdictBlock:
		w.sched.awaitMailbox(w.id, p)

	case exec.VerdictDirty:
		w.sched.dispatchDirty(p)

	case exec.VerdictExit:
		w.sched.terminate(p)
	}
}

// awaitMailbox installs the "mailbox wakeup" spec.md describes for a
// process parked on a receive: a goroutine blocks on the mailbox's own
// wakeup channel (Mailbox.Wait) and re-enqueues the process the moment a
// message (or signal-driven unblock) arrives, rather than having every
// worker thread poll every blocked process's mailbox.
func (s *Scheduler) awaitMailbox(idx int, p *process.Process) {
	go func() {
		p.Mailbox.Wait(0)
		s.enqueueOn(idx, p)
	}()
}

// awaitMailboxDirty is awaitMailbox's counterpart for a process that
// blocked on a receive while running on a dirty pool: once a message
// arrives it rejoins the normal schedulers, since blocking on a receive
// carries no dirty-scheduler affinity of its own.
func (s *Scheduler) awaitMailboxDirty(p *process.Process) {
	go func() {
		p.Mailbox.Wait(0)
		s.Enqueue(p)
	}()
}

// dispatchDirty hands p off to the dirty pool named by PendingDirty. It
// records the dispatch with DirtyGate but enqueues p whether or not the
// gate admits it; the pool's own FIFO is what absorbs a burst.
func (s *Scheduler) dispatchDirty(p *process.Process) {
	class := DirtyCPU
	if p.PendingDirty == 2 {
		class = DirtyIO
	}
	s.gate.Admit(class) // rate-limit signal only; never rejects admission, see DirtyGate doc.

	if class == DirtyIO {
		s.dirtyIO.enqueue(p)
	} else {
		s.dirtyCPU.enqueue(p)
	}
}

// terminate runs spec.md §4.9's exit-signal cascade (links propagate the
// exit unless the linked peer traps exits, in which case it receives an
// {'EXIT', From, Reason} signal instead; monitors get a DOWN) and removes
// p from the process table.
//
// KindExit/KindDown are pushed onto the peer's SignalQueue, the single
// delivery channel: the engine's dispatch loop drains it into a real
// mailbox message at its next safe point (internal/exec/engine.go's
// drainSignals), whether the peer is busy executing bytecode or currently
// Waiting on a receive. A Waiting peer's dispatch goroutine is blocked in
// Mailbox.Wait, not looping through the engine, so it additionally needs
// nudging awake; wakeNudge does that without itself enqueueing anything,
// leaving drainSignals as the only place that ever builds the delivered
// message (avoiding double delivery).
//
// A non-trapping linked peer does not get a message at all: exit
// propagates by killing it outright. Rather than hope a re-enqueued
// process notices its exit reason was set out from under it, it is marked
// Exiting directly so the engine returns VerdictExit without running any
// more of its bytecode (see engine.run).
func (s *Scheduler) terminate(p *process.Process) {
	p.State.Set(process.Exiting | process.Terminated)
	normal := p.ExitReason == term.MakeAtom(s.engine.Runtime.Atoms.Intern("normal"))

	for _, peerID := range p.LinkedPeers() {
		peerHandle, ok := s.procs.Lookup(peerID)
		if !ok {
			continue
		}
		peer := peerHandle.Unwrap()
		peer.UnregisterLink(p.ID)

		if peer.State.Has(process.TrapExit) {
			peer.Signals.Push(signaling.Signal{Kind: signaling.KindExit, From: p.ID, To: peer.ID, Reason: p.ExitReason})
			wakeNudge(peer)
			continue
		}
		if !normal {
			peer.ExitReason = p.ExitReason
			peer.State.Set(process.Exiting)
			s.Enqueue(peer)
		}
	}

	for ref, holder := range p.MonitorsInSnapshot() {
		holderHandle, ok := s.procs.Lookup(holder)
		if !ok {
			continue
		}
		h := holderHandle.Unwrap()
		h.ClearMonitorOut(ref)
		h.Signals.Push(signaling.Signal{Kind: signaling.KindDown, From: p.ID, To: h.ID, Reason: p.ExitReason, MonitorRef: ref})
		wakeNudge(h)
	}

	s.procs.Remove(p.ID)
}

// wakeNudge wakes peer if it is currently parked on a receive, so its next
// dispatch reaches the engine's safe-point signal drain instead of
// blocking indefinitely for mail that may never arrive. A no-op if peer
// isn't Waiting.
func wakeNudge(peer *process.Process) {
	if peer.State.Has(process.Waiting) {
		peer.Mailbox.Nudge()
	}
}
