package ironbeam

import (
	"time"

	"github.com/yenrab/iron-beam/internal/obslog"
)

// Config configures a runtime Handle, per spec.md §6's recognized
// configuration options.
type Config struct {
	// SchedulerCount is the number of normal scheduler OS threads; 0
	// selects runtime.GOMAXPROCS(0), which Initialize first adjusts to the
	// container's CPU quota via maxprocs.Set (spec.md's "scheduler_count
	// (default: auto)").
	SchedulerCount int

	// MaxProcesses is the configured process limit; 0 selects 1<<20, per
	// spec.md's documented default. It is stored only: Initialize does not
	// pass it to the process table, and nothing rejects a spawn past it.
	MaxProcesses int

	// MemoryLimit is an advisory byte ceiling; 0 means unlimited. No
	// component enforces it.
	MemoryLimit int64

	// AtomTableSize sizes the initial atom table; 0 selects 8192.
	AtomTableSize int

	// DistributionEnabled, NodeName, DistributionCookie are accepted and
	// stored per spec.md §6 but inter-node distribution itself is out of
	// scope (spec.md Non-goals); see DESIGN.md.
	DistributionEnabled bool
	NodeName            string
	DistributionCookie  string

	// ReductionBudget is the scheduler's per-dispatch reduction
	// allowance; 0 selects sched.DefaultReductionBudget.
	ReductionBudget int

	// DirtyCPUWorkers/DirtyIOWorkers size the dirty-scheduler pools; 0
	// selects 1 each.
	DirtyCPUWorkers, DirtyIOWorkers int

	// DirtyRates configures the dirty-dispatch admission limiter; nil
	// selects sched.DefaultDirtyRates.
	DirtyRates map[time.Duration]int

	// ProcTableShards/ABAWindow tune internal/proctab; 0 selects 16 shards
	// and a 4096-entry window (see normalize).
	ProcTableShards int
	ABAWindow       int

	// PurgeFlushInterval batches concurrent Purge/hot-reload safepoint
	// votes within this window; 0 selects code.Collector's own default
	// (20ms).
	PurgeFlushInterval time.Duration

	// Logger is the structured logger the Handle writes its lifecycle
	// events through (scheduler start/stop, initial spawn); the internal
	// packages do not log. nil selects obslog.NoOp(), a disabled logger, mirroring
	// eventloop.NewNoOpLogger's safe-default posture.
	Logger *obslog.Logger
}

// Option mutates a Config, following the teacher monorepo's functional
// options idiom (see logiface-slog's Option/WithLevel).
type Option func(*Config)

// WithSchedulerCount sets Config.SchedulerCount.
func WithSchedulerCount(n int) Option {
	return func(c *Config) { c.SchedulerCount = n }
}

// WithMaxProcesses sets Config.MaxProcesses.
func WithMaxProcesses(n int) Option {
	return func(c *Config) { c.MaxProcesses = n }
}

// WithMemoryLimit sets Config.MemoryLimit.
func WithMemoryLimit(bytes int64) Option {
	return func(c *Config) { c.MemoryLimit = bytes }
}

// WithAtomTableSize sets Config.AtomTableSize.
func WithAtomTableSize(n int) Option {
	return func(c *Config) { c.AtomTableSize = n }
}

// WithDistribution sets Config.DistributionEnabled/NodeName/DistributionCookie.
func WithDistribution(enabled bool, nodeName, cookie string) Option {
	return func(c *Config) {
		c.DistributionEnabled = enabled
		c.NodeName = nodeName
		c.DistributionCookie = cookie
	}
}

// WithReductionBudget sets Config.ReductionBudget.
func WithReductionBudget(n int) Option {
	return func(c *Config) { c.ReductionBudget = n }
}

// WithDirtyWorkers sets Config.DirtyCPUWorkers/DirtyIOWorkers.
func WithDirtyWorkers(cpu, io int) Option {
	return func(c *Config) {
		c.DirtyCPUWorkers = cpu
		c.DirtyIOWorkers = io
	}
}

// WithDirtyRates sets Config.DirtyRates.
func WithDirtyRates(rates map[time.Duration]int) Option {
	return func(c *Config) { c.DirtyRates = rates }
}

// WithProcTable sets Config.ProcTableShards/ABAWindow.
func WithProcTable(shards, abaWindow int) Option {
	return func(c *Config) {
		c.ProcTableShards = shards
		c.ABAWindow = abaWindow
	}
}

// WithPurgeFlushInterval sets Config.PurgeFlushInterval.
func WithPurgeFlushInterval(d time.Duration) Option {
	return func(c *Config) { c.PurgeFlushInterval = d }
}

// WithLogger sets Config.Logger.
func WithLogger(logger *obslog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

const (
	defaultMaxProcesses   = 1 << 20
	defaultAtomTableSize  = 8192
	defaultProcTableShards = 16
	defaultABAWindow      = 4096
)

func (c Config) normalize() Config {
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = defaultMaxProcesses
	}
	if c.AtomTableSize <= 0 {
		c.AtomTableSize = defaultAtomTableSize
	}
	if c.ProcTableShards <= 0 {
		c.ProcTableShards = defaultProcTableShards
	}
	if c.ABAWindow <= 0 {
		c.ABAWindow = defaultABAWindow
	}
	if c.Logger == nil {
		c.Logger = obslog.NoOp()
	}
	return c
}
