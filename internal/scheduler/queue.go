package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
)

// Priority orders narration jobs in the queue. Lower values dequeue first.
type Priority int

// Priority tiers. High is meant for currently visible content, normal for
// off-screen content, low for background prefetch.
const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// ErrUnknownPriority indicates a priority string outside high/normal/low.
var ErrUnknownPriority = errors.New("unknown priority")

// ParsePriority maps the wire-level priority names onto tiers. An empty
// string means normal.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("%w: '%s'", ErrUnknownPriority, name)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// jobQueue is a min-heap of pending jobs ordered by priority tier, then by
// submission sequence within a tier (strict FIFO). Cancelled jobs stay in
// the heap and are skipped on pop; removal is lazy.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}

	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(*job)) }

func (q *jobQueue) Pop() any {
	old := *q
	last := len(old) - 1
	item := old[last]
	old[last] = nil
	*q = old[:last]

	return item
}

// ordersBefore reports whether a dequeues before b.
func ordersBefore(a, b *job) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}

	return a.seq < b.seq
}

var _ heap.Interface = (*jobQueue)(nil)
