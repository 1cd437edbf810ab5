package signaling

import (
	"sync"
	"time"

	"github.com/yenrab/iron-beam/internal/term"
)

// Mailbox is a process's unbounded FIFO of owned, already-copied terms,
// with a save cursor marking the next candidate for selective receive.
//
// On a receive failure (no pattern in the instruction matched any message
// from the cursor to the tail), the cursor advances to the tail and the
// process blocks; a newly arriving message is appended after it, so the
// next scan starts with the new arrivals, per spec.md's save-pointer
// semantics. On a
// successful match the matched message is removed and the cursor resets to
// the head, so the next receive starts scanning from the oldest remaining
// message again.
//
// The cursor is itself a GC root (see the gc package): it must persist
// across a collection rather than reset, since resetting it would let a
// process re-observe messages it had already failed to match against an
// in-progress selective receive, breaking per-pair FIFO receive semantics.
type Mailbox struct {
	mu     sync.Mutex
	queue  []term.Word
	cursor int

	waiters []chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Enqueue appends a newly delivered message to the tail and wakes any
// blocked receiver. The term must already have been copied into the
// receiving process's ownership by the sender.
func (m *Mailbox) Enqueue(msg term.Word) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Nudge wakes any goroutine blocked in Wait without enqueueing a message.
// Used to reschedule a process parked on a receive when a control signal
// (not an ordinary message) was pushed onto its SignalQueue, so its next
// dispatch drains and acts on the signal instead of waiting for mail that
// may never arrive.
func (m *Mailbox) Nudge() {
	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Len reports the number of messages currently queued.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Cursor returns the current save-cursor position, a GC root.
func (m *Mailbox) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Snapshot returns every currently queued message, for GC root tracing.
// The returned slice must be treated as read-only by the caller.
func (m *Mailbox) Snapshot() []term.Word {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]term.Word, len(m.queue))
	copy(out, m.queue)
	return out
}

// Rewrite replaces every queued message with the corresponding entry of
// rewritten (same length, same order), used by the GC after copying
// mailbox-rooted terms into the new heap.
func (m *Mailbox) Rewrite(rewritten []term.Word) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(rewritten) != len(m.queue) {
		panic("signaling: mailbox rewrite length mismatch")
	}
	copy(m.queue, rewritten)
}

// Receive scans from the save cursor to the tail, applying match to each
// candidate message in order. On the first match, the message is removed
// from the queue, the cursor resets to zero, and the message is returned.
// On exhaustion, the cursor is advanced to len(queue) (so a subsequent
// arrival is considered fresh) and ok is false.
func (m *Mailbox) Receive(match func(term.Word) bool) (msg term.Word, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.cursor; i < len(m.queue); i++ {
		if match(m.queue[i]) {
			msg = m.queue[i]
			m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
			m.cursor = 0
			return msg, true
		}
	}
	m.cursor = len(m.queue)
	return term.Nil, false
}

// Wait blocks until either a new message is enqueued or timeout elapses
// (timeout <= 0 waits indefinitely). It returns false on timeout.
//
// Wait must only be called by the owning process's own goroutine (the
// scheduler thread currently running it); it is the mechanism behind
// "receive after T", cancelled on arrival exactly as spec.md requires.
func (m *Mailbox) Wait(timeout time.Duration) bool {
	m.mu.Lock()
	if len(m.queue) > m.cursor {
		m.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
