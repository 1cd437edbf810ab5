// Package obslog wires the runtime's ambient structured logging: a single
// shared *logiface.Logger[*slogevent.Event], backed by logiface-slog
// (github.com/joeycumines/logiface-slog) onto log/slog, mirroring the
// teacher monorepo's logiface + logiface-slog pairing. The root package's
// Handle logs its lifecycle events through it; the scheduler, loader,
// collector and NIF sandbox do not log.
package obslog

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	slogevent "github.com/joeycumines/logiface-slog"
)

// Logger is the shared logger type, supplied via ironbeam.Config.Logger.
type Logger = logiface.Logger[*slogevent.Event]

// NoOp returns a disabled logger, matching eventloop.NewNoOpLogger's
// posture of a safe, inert default: every call is a cheap no-op rather
// than a nil-check the caller must remember to perform.
func NoOp() *Logger {
	return logiface.New[*slogevent.Event]()
}

// New builds a Logger writing through handler at the given minimum level.
// A nil handler defaults to a JSON handler on os.Stderr.
func New(handler slog.Handler, level logiface.Level) *Logger {
	if handler == nil {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	return logiface.New[*slogevent.Event](slogevent.NewLogger(handler, slogevent.WithLevel(level)))
}

// Fields are the structured-log field names every component attaches
// where applicable, per SPEC_FULL.md §2.1's convention (mirroring
// eventloop.LogEntry's Category/LoopID/TaskID fields).
const (
	FieldScheduler = "scheduler_id"
	FieldPid       = "pid"
	FieldModule    = "module"
)
