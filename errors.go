package ironbeam

import "errors"

// Standard errors, following the teacher monorepo's sentinel-error idiom
// (eventloop.ErrLoopAlreadyRunning and siblings).
var (
	// ErrAlreadyStarted is returned by Handle.Start when called on a
	// Handle that has already started its schedulers.
	ErrAlreadyStarted = errors.New("ironbeam: runtime already started")

	// ErrNotStarted is returned by Handle.SpawnInitial when called before
	// Start.
	ErrNotStarted = errors.New("ironbeam: runtime not started")

	// ErrShutdown is returned by any Handle operation attempted after
	// Shutdown has completed.
	ErrShutdown = errors.New("ironbeam: runtime has shut down")

	// ErrModuleNotFound is returned by SpawnInitial when the requested
	// module has no published current version.
	ErrModuleNotFound = errors.New("ironbeam: module not found")

	// ErrFunctionNotExported is returned by SpawnInitial when the
	// requested {function, arity} is not in the module's export table.
	ErrFunctionNotExported = errors.New("ironbeam: function not exported")
)
