// Package ironbeam is a BEAM-style process-oriented runtime: a bytecode
// execution engine, a preemptive reduction-counted scheduler with
// per-process generational copying garbage collection, message passing
// with links and monitors, hot code loading, and a sandboxed
// native-extension mechanism.
//
// Initialize builds a Handle, Start launches its scheduler threads,
// SpawnInitial creates and enqueues the first process, and Shutdown
// drains the runtime. See Config for the recognized boot options.
package ironbeam
