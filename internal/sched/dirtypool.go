package sched

import (
	"sync"

	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/process"
)

// dirtyPool runs processes that invoked a dirty-classified BIF on a small,
// separate set of goroutines so a long-running/blocking native call never
// occupies a normal scheduler thread, per spec.md §4.8's dirty-scheduler
// pools. Unlike the normal schedulers' per-thread priority queues, a dirty
// pool is a single shared FIFO — dirty work is comparatively rare and
// coarse-grained, so per-worker stealing isn't worth the complexity.
type dirtyPool struct {
	sched   *Scheduler
	class   DirtyClass
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  processQueue
	closed bool
	wg     sync.WaitGroup
}

func newDirtyPool(sched *Scheduler, class DirtyClass, workers int) *dirtyPool {
	d := &dirtyPool{sched: sched, class: class, workers: workers}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dirtyPool) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
}

func (d *dirtyPool) stop() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *dirtyPool) enqueue(p *process.Process) {
	p.State.Set(process.DirtyRunning)
	d.mu.Lock()
	d.queue.Push(p)
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *dirtyPool) loop() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.queue.Len() == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		p, ok := d.queue.Pop()
		d.mu.Unlock()
		if !ok {
			continue
		}

		d.run(p)
	}
}

// run executes p's dirty call to completion (or its next yield point) via
// Engine.RunDirty, which — unlike Run — executes a dirty-classified BIF
// inline instead of bouncing it back out as VerdictDirty.
func (d *dirtyPool) run(p *process.Process) {
	verdict := d.sched.engine.RunDirty(p, d.sched.cfg.ReductionBudget)
	p.State.Clear(process.DirtyRunning)

	switch verdict {
	case exec.VerdictYield, exec.VerdictDirty:
		// Still has work (or immediately wants another dirty call): stay on
		// the dirty pool rather than bouncing back to a normal scheduler,
		// since a process that called one dirty BIF commonly calls more
		// before it next blocks on ordinary bytecode.
		d.enqueue(p)

	case exec.VerdictBlock:
		d.sched.awaitMailboxDirty(p)

	case exec.VerdictExit:
		d.sched.terminate(p)
	}
}
