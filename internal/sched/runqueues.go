package sched

import (
	"math/rand"

	"github.com/yenrab/iron-beam/internal/process"
)

// lowBiasNumerator/Denominator implement spec.md's "among low/normal the
// low queue is selected with a 1/8 probability bias to avoid starvation
// while giving normal priority throughput": one in eight pops that would
// otherwise favor normal instead drains low.
const (
	lowBiasNumerator   = 1
	lowBiasDenominator = 8
)

// priorityQueues holds one scheduler thread's four run queues: max is
// strictly preferred, then high, then low/normal alternate per the 1/8
// bias, exactly as spec.md §4.8 describes.
type priorityQueues struct {
	max, high, normal, low processQueue
}

func (q *priorityQueues) push(p *process.Process) {
	switch p.Priority {
	case process.PriorityMax:
		q.max.Push(p)
	case process.PriorityHigh:
		q.high.Push(p)
	case process.PriorityLow:
		q.low.Push(p)
	default:
		q.normal.Push(p)
	}
}

// pop selects the next process to run. max always wins; high is next;
// among low/normal, low wins with 1/8 probability (falling back to
// whichever of the two is non-empty if the biased choice is empty).
func (q *priorityQueues) pop(rng *rand.Rand) (*process.Process, bool) {
	if p, ok := q.max.Pop(); ok {
		return p, true
	}
	if p, ok := q.high.Pop(); ok {
		return p, true
	}

	preferLow := rng.Intn(lowBiasDenominator) < lowBiasNumerator
	first, second := &q.normal, &q.low
	if preferLow {
		first, second = &q.low, &q.normal
	}
	if p, ok := first.Pop(); ok {
		return p, true
	}
	return second.Pop()
}

// stealFrom pops one process from a peer's non-max queues (max-priority
// work stays put — spec.md reserves queue-level exclusivity for the queue
// a scheduler is itself tending, and max is the one priority that must
// never bounce between threads mid-burst).
func (q *priorityQueues) stealFrom(peer *priorityQueues) (*process.Process, bool) {
	if p, ok := peer.high.Pop(); ok {
		return p, true
	}
	if p, ok := peer.normal.Pop(); ok {
		return p, true
	}
	return peer.low.Pop()
}

func (q *priorityQueues) empty() bool {
	return q.max.Len() == 0 && q.high.Len() == 0 && q.normal.Len() == 0 && q.low.Len() == 0
}

func (q *priorityQueues) len() int {
	return q.max.Len() + q.high.Len() + q.normal.Len() + q.low.Len()
}
