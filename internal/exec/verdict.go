package exec

// Verdict reports why Engine.Run returned control to the scheduler.
type Verdict uint8

const (
	// VerdictYield means the process exhausted its reduction budget and
	// remains runnable; the scheduler should re-enqueue it.
	VerdictYield Verdict = iota
	// VerdictBlock means the process parked itself (e.g. a receive with no
	// matching message) and is now Waiting; the scheduler must not
	// re-enqueue it until something wakes it (message arrival, timeout).
	VerdictBlock
	// VerdictExit means the process terminated, normally or abnormally;
	// Process.ExitReason holds why. The scheduler must run exit-signal
	// propagation (links/monitors) and then remove it from the process
	// table.
	VerdictExit
	// VerdictDirty means the process is about to call a dirty-classified
	// BIF and must be redispatched on a dirty scheduler pool instead of a
	// normal one; Process.PendingDirty names which pool. The instruction
	// pointer has not advanced, so redispatching the same process (this
	// time via Engine.RunDirty) re-attempts the same call.
	VerdictDirty
)

func (v Verdict) String() string {
	switch v {
	case VerdictYield:
		return "yield"
	case VerdictBlock:
		return "block"
	case VerdictExit:
		return "exit"
	case VerdictDirty:
		return "dirty"
	default:
		return "unknown_verdict"
	}
}
