// Package signaling implements the per-process queues of the inter-process
// effect model: a Mailbox of ordinary messages and a SignalQueue of Signal
// values routed by pid, never as a raw pointer between process structs.
// This keeps cross-process relationships expressible purely as identifiers
// into the process table, eliminating the cyclic ownership graphs that
// direct pointers between processes would otherwise create.
//
// Only exit and DOWN notifications travel as queued Signals. Messages are
// copied straight into the receiver's Mailbox, and links and monitors are
// registered on both processes directly by the engine's opcodes, so the
// remaining Kinds are declared but never queued.
package signaling

import "github.com/yenrab/iron-beam/internal/term"

// Kind identifies the effect a Signal carries.
type Kind uint8

const (
	KindMessage Kind = iota
	KindLink
	KindUnlink
	KindMonitor
	KindDemonitor
	KindDown
	KindExit
	KindGroupLeaderChange
	KindTraceChange
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindLink:
		return "link"
	case KindUnlink:
		return "unlink"
	case KindMonitor:
		return "monitor"
	case KindDemonitor:
		return "demonitor"
	case KindDown:
		return "down"
	case KindExit:
		return "exit"
	case KindGroupLeaderChange:
		return "group_leader_change"
	case KindTraceChange:
		return "trace_change"
	default:
		return "unknown"
	}
}

// Ref is a monitor reference: unique per monitor, used to correlate a DOWN
// notification (or a later demonitor) with the monitor that created it.
type Ref struct {
	Node   string
	Serial uint64
}

// Signal is a single queued inter-process event, drained by the receiving
// process at its next safe point (an instruction boundary where its
// registers and instruction pointer are consistent).
type Signal struct {
	Kind Kind

	// From/To are process-table serials of the sender/receiver. For
	// KindDown, From is the monitored process that terminated and To is
	// the monitor holder.
	From, To uint32

	// Message carries the payload for KindMessage (already copied into
	// the receiver's ownership by the sender).
	Message term.Word

	// Reason carries the exit/down reason for KindExit and KindDown.
	Reason term.Word

	// MonitorRef correlates KindMonitor/KindDemonitor/KindDown.
	MonitorRef Ref

	// GroupLeader carries the new group leader pid for
	// KindGroupLeaderChange.
	GroupLeader uint32
}
