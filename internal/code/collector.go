package code

import (
	"context"
	"time"

	"github.com/joeycumines/go-microbatch"
)

// ProcessSweeper is the narrow view the Collector needs of the process
// table: a way to ask every live process whether its instruction pointer
// currently sits inside a given module's old code.
type ProcessSweeper interface {
	// StillExecuting reports whether any live process is still executing
	// moduleName's old version. The Collector supplies the module name
	// being voted on; implementations (code.ProcTableSweeper, over
	// proctab.Table) walk the live set and report back.
	StillExecuting(moduleName string) bool
}

// purgeVote is one request to retire a module's old code version, submitted
// to the Collector's Batcher so that concurrent purge requests are handled
// in one batch, with requests for the same module sharing a single
// safepoint sweep instead of each racing the process table independently.
type purgeVote struct {
	module string
	purged bool
}

// Collector implements literal/code garbage collection for superseded
// module versions (C4's purge half): it batches concurrent purge requests
// via github.com/joeycumines/go-microbatch so that duplicate requests for
// the same module in a batch share one safepoint sweep of the process table
// (each distinct module in the batch still gets its own sweep), then purges
// every module in the batch whose old version no process is still
// executing.
type Collector struct {
	registry *Registry
	sweeper  ProcessSweeper
	batcher  *microbatch.Batcher[*purgeVote]
}

// NewCollector creates a Collector wired to registry and sweeper, batching
// purge votes with the given window (0 selects a 20ms default, matching the
// teacher's flush-interval convention for low-latency coalescing).
func NewCollector(registry *Registry, sweeper ProcessSweeper, flushInterval time.Duration) *Collector {
	if flushInterval <= 0 {
		flushInterval = 20 * time.Millisecond
	}
	c := &Collector{registry: registry, sweeper: sweeper}
	c.batcher = microbatch.NewBatcher[*purgeVote](&microbatch.BatcherConfig{
		MaxSize:       64,
		FlushInterval: flushInterval,
		MaxConcurrency: 1,
	}, c.processBatch)
	return c
}

// processBatch is the microbatch.BatchProcessor: for every module named in
// the batch, it sweeps the process table once and purges the old version if
// no process is still executing inside it.
func (c *Collector) processBatch(ctx context.Context, votes []*purgeVote) error {
	seen := make(map[string]bool, len(votes))
	for _, v := range votes {
		if seen[v.module] {
			continue
		}
		seen[v.module] = true

		if !c.registry.HasOld(v.module) {
			continue
		}
		if c.sweeper.StillExecuting(v.module) {
			continue
		}
		c.registry.purge(v.module)
	}
	for _, v := range votes {
		v.purged = !c.registry.HasOld(v.module)
	}
	return nil
}

// RequestPurge submits a purge vote for module and blocks until the batch
// containing it has run, returning whether the old version was actually
// retired (false means some process was still executing it, or there was no
// old version to purge).
func (c *Collector) RequestPurge(ctx context.Context, module string) (bool, error) {
	vote := &purgeVote{module: module}
	result, err := c.batcher.Submit(ctx, vote)
	if err != nil {
		return false, err
	}
	if err := result.Wait(ctx); err != nil {
		return false, err
	}
	return result.Job.purged, nil
}

// Close shuts down the Collector's internal batcher, waiting for any
// in-flight sweep to complete.
func (c *Collector) Close() error {
	return c.batcher.Close()
}
