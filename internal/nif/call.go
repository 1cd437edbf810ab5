package nif

import (
	"fmt"
	"runtime/debug"

	"github.com/yenrab/iron-beam/internal/term"
)

// Function is the signature every loaded native function must implement.
type Function func(env *Env, args []term.Word) (term.Word, error)

// MaxCallStackBytes bounds the stack a single native call may grow to
// before the runtime treats further growth as fatal. debug.SetMaxStack
// is process-wide, not per-goroutine — pure Go offers no per-call stack
// limit — so this is a best-effort approximation of spec.md's call-depth
// guard rather than a true sandbox boundary; see DESIGN.md.
const MaxCallStackBytes = 64 << 20

// FaultKind classifies what Call's isolation boundary caught.
type FaultKind string

const (
	FaultPanic  FaultKind = "panic"
	FaultGoexit FaultKind = "goexit"
)

// FaultError is returned by Call when the native function's goroutine
// terminated abnormally. The caller (the BIF adapter in bif.go) turns
// this into the calling process's exit reason
// {native_fault, Kind, Detail}.
type FaultError struct {
	Kind   FaultKind
	Detail string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("nif: native_fault kind=%s detail=%s", e.Kind, e.Detail)
}

// Call runs fn to completion on a dedicated goroutine — the closest Go
// equivalent of a native extension's own call stack, discarded rather
// than reused so a corrupted one is simply abandoned and collected —
// recovering any panic or detecting runtime.Goexit and reporting both as
// a FaultError instead of crashing the caller. Grounded on
// eventloop.Promisify's recover/completion-flag pattern.
func Call(fn Function, env *Env, args []term.Word) (term.Word, error) {
	type outcome struct {
		result term.Word
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		debug.SetPanicOnFault(true)
		prevMax := debug.SetMaxStack(MaxCallStackBytes)
		defer debug.SetMaxStack(prevMax)

		completed := false
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &FaultError{Kind: FaultPanic, Detail: fmt.Sprint(r)}}
				return
			}
			if !completed {
				done <- outcome{err: &FaultError{Kind: FaultGoexit, Detail: "native call exited via runtime.Goexit"}}
			}
		}()

		result, err := fn(env, args)
		completed = true
		done <- outcome{result: result, err: err}
	}()

	o := <-done
	return o.result, o.err
}
