// Package ironbeam is the runtime's boot & control surface (C11), per
// spec.md §4.11/§6: Initialize builds a Handle, Start launches S scheduler
// threads, SpawnInitial spawns an initial process, and Shutdown stops the
// schedulers. None of these calls blocks waiting for the initial process
// to exit or for a shutdown request.
package ironbeam

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/yenrab/iron-beam/internal/code"
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/nif"
	"github.com/yenrab/iron-beam/internal/obslog"
	"github.com/yenrab/iron-beam/internal/process"
	"github.com/yenrab/iron-beam/internal/proctab"
	"github.com/yenrab/iron-beam/internal/sched"
	"github.com/yenrab/iron-beam/internal/term"
)

// adjustGOMAXPROCS right-sizes GOMAXPROCS to the host's cgroup CPU quota
// exactly once per process, so that "scheduler_count (default: auto)"
// picks a thread count matching what the container was actually given
// rather than the host's full core count. Safe to call from every
// Initialize; only the first call has any effect.
var adjustGOMAXPROCS = sync.OnceFunc(func() {
	_, _ = maxprocs.Set()
})

// Status is returned by Handle.Shutdown, mirroring spec.md §6's
// `shutdown(Handle) → status`.
type Status struct {
	// Reason is "shutdown" on a clean drain.
	Reason string
	// ProcessesKilled is always zero: Shutdown has no drain deadline and
	// does not terminate the processes that remain.
	ProcessesKilled int
}

// Handle is the opaque runtime instance returned by Initialize, per
// spec.md §6's `initialize(config) → Handle | error`.
type Handle struct {
	cfg Config

	Atoms     *term.AtomTable
	Registry  *code.Registry
	Procs     *proctab.Table
	Engine    *exec.Engine
	Sched     *sched.Scheduler
	Logger    *obslog.Logger
	Collector *code.Collector

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// Initialize builds a Handle from opts without starting any scheduler
// threads, per spec.md §6's `initialize(config) → Handle | error`.
func Initialize(opts ...Option) (*Handle, error) {
	adjustGOMAXPROCS()

	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}
	cfg = cfg.normalize()

	atoms := term.NewAtomTable(cfg.AtomTableSize)
	registry := code.NewRegistry()
	procs := proctab.New(cfg.ProcTableShards, cfg.ABAWindow)
	rt := exec.NewRuntime(atoms, registry, procs)
	registerBuiltinNIFs(rt)
	engine := exec.NewEngine(rt)

	schedCfg := sched.Config{
		Threads:         cfg.SchedulerCount,
		ReductionBudget: cfg.ReductionBudget,
		DirtyCPUWorkers: cfg.DirtyCPUWorkers,
		DirtyIOWorkers:  cfg.DirtyIOWorkers,
		DirtyRates:      cfg.DirtyRates,
	}

	sweeper := &code.ProcTableSweeper{Registry: registry, Procs: procs}
	collector := code.NewCollector(registry, sweeper, cfg.PurgeFlushInterval)

	return &Handle{
		cfg:       cfg,
		Atoms:     atoms,
		Registry:  registry,
		Procs:     procs,
		Engine:    engine,
		Sched:     sched.New(engine, procs, schedCfg),
		Logger:    cfg.Logger,
		Collector: collector,
	}, nil
}

// Purge retires module's superseded code version, per spec.md §8 Invariant
// 7: it returns true only once a safepoint sweep of every live process (via
// Collector/ProcTableSweeper) has confirmed no instruction pointer or call
// frame still references the old version. Concurrent purge calls are
// batched, and calls for the same module share a single sweep.
func (h *Handle) Purge(ctx context.Context, module string) (bool, error) {
	return h.Collector.RequestPurge(ctx, module)
}

// LoadModule parses, validates, and publishes a chunked module image
// (spec.md §6's bytecode module image format), making it available to
// SpawnInitial and to in-VM spawn/call operations.
func (h *Handle) LoadModule(name string, image []byte) error {
	loader := code.NewLoader(h.Atoms)
	mod, err := loader.Load(name, image)
	if err != nil {
		return fmt.Errorf("ironbeam: loading module %s: %w", name, err)
	}
	if err := h.Registry.Publish(mod); err != nil {
		return fmt.Errorf("ironbeam: publishing module %s: %w", name, err)
	}
	return nil
}

// Start launches the scheduler's OS threads, per spec.md §6's
// `start(Handle) → error?`. It is not valid to call Start twice, or after
// Shutdown.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return ErrShutdown
	}
	if h.started {
		return ErrAlreadyStarted
	}
	h.started = true
	h.Sched.Start()
	h.Logger.Info().Log("scheduler started")
	return nil
}

// SpawnInitial creates the initial process invoking {module, function,
// args} and enqueues it onto the scheduler, per spec.md §6's
// `spawn_initial(Handle, {module, function, args}) → pid`.
func (h *Handle) SpawnInitial(module, function string, args []term.Word) (uint32, error) {
	h.mu.Lock()
	started := h.started
	isShutdown := h.shutdown
	h.mu.Unlock()

	if isShutdown {
		return 0, ErrShutdown
	}
	if !started {
		return 0, ErrNotStarted
	}

	mod, ok := h.Registry.Current(module)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
	}
	if _, ok := mod.EntryPoint(function, len(args)); !ok {
		return 0, fmt.Errorf("%w: %s/%d in %s", ErrFunctionNotExported, function, len(args), module)
	}

	handle := h.Procs.Spawn(process.SpawnConfig{
		Module:   module,
		Function: function,
		Arity:    len(args),
		Args:     args,
	})
	p := handle.Unwrap()
	h.Sched.Enqueue(p)

	h.Logger.Info().
		Str(obslog.FieldModule, module).
		Int(obslog.FieldPid, int(p.ID)).
		Log("spawned initial process")

	return p.ID, nil
}

// Shutdown stops the scheduler, per spec.md §4.11/§6's
// `shutdown(Handle) → status`: every worker exits its loop once its current
// dispatch finishes. Processes still queued or waiting are neither run to
// completion nor killed; they stay in the process table. It is safe to
// call more than once.
func (h *Handle) Shutdown() Status {
	h.mu.Lock()
	alreadyShutdown := h.shutdown
	h.shutdown = true
	h.mu.Unlock()

	if alreadyShutdown {
		return Status{Reason: "shutdown"}
	}

	h.Sched.Stop()
	_ = h.Collector.Close()
	h.Logger.Info().Log("scheduler stopped")
	return Status{Reason: "shutdown"}
}
