// Package inputqueue implements the paired input FIFO from spec.md §3/§4.A:
// two bounded deques (local, remote) sharing one capacity, with a fixed
// local_delay applied when committing pairs.
package inputqueue

import (
	"errors"
	"sync"
)

// ErrFull is returned by AddLocal/AddRemote when the queue is already at
// capacity; the caller is expected to check CanAddLocal/CanAddRemote
// first, so hitting this is a protocol fault (spec.md §4.A).
var ErrFull = errors.New("inputqueue: at capacity")

// Pair is one committed local+remote element.
type Pair[L, R any] struct {
	Local  L
	Remote R
}

// Queue is the PairQueue of spec.md §3: two FIFOs of capacity C sharing
// a single mutex, with an immutable local_delay applied at construction
// and fixed for the life of the round.
type Queue[L, R any] struct {
	mu         sync.Mutex
	capacity   int
	localDelay uint32
	local      []L
	remote     []R
}

// New constructs a Queue with the given shared capacity and local_delay.
// local_delay is bound at round start (spec.md §4.A) and never changes.
func New[L, R any](capacity int, localDelay uint32) *Queue[L, R] {
	return &Queue[L, R]{capacity: capacity, localDelay: localDelay}
}

// LocalDelay returns the fixed local_delay this queue was constructed with.
func (q *Queue[L, R]) LocalDelay() uint32 {
	return q.localDelay
}

// CanAddLocal reports whether AddLocal would currently succeed.
func (q *Queue[L, R]) CanAddLocal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.local) < q.capacity
}

// CanAddRemote reports whether AddRemote would currently succeed.
func (q *Queue[L, R]) CanAddRemote() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.remote) < q.capacity
}

// AddLocal pushes a local input. Called from the emulator thread at
// each frame.
func (q *Queue[L, R]) AddLocal(x L) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.local) >= q.capacity {
		return ErrFull
	}
	q.local = append(q.local, x)
	return nil
}

// AddRemote pushes a remote input. Called from the transport task.
func (q *Queue[L, R]) AddRemote(y R) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.remote) >= q.capacity {
		return ErrFull
	}
	q.remote = append(q.remote, y)
	return nil
}

// ConsumeAndPeekLocal implements the Queue law and Delay law from
// spec.md §8: it commits N = max(0, min(len(local)-local_delay,
// len(remote))) pairs by zipping the first N elements of each side, and
// returns the remaining already-queued-but-not-yet-committed locals (up
// to index len(local)-local_delay) as peekedLocal, used to drive local
// prediction. After this call len(local) >= local_delay always holds,
// because only the lag-delayed prefix is ever dequeued.
func (q *Queue[L, R]) ConsumeAndPeekLocal() (committed []Pair[L, R], peekedLocal []L) {
	q.mu.Lock()
	defer q.mu.Unlock()

	eligible := len(q.local) - int(q.localDelay)
	if eligible < 0 {
		eligible = 0
	}
	n := eligible
	if len(q.remote) < n {
		n = len(q.remote)
	}

	committed = make([]Pair[L, R], n)
	for i := 0; i < n; i++ {
		committed[i] = Pair[L, R]{Local: q.local[i], Remote: q.remote[i]}
	}

	peekedLocal = make([]L, eligible-n)
	copy(peekedLocal, q.local[n:eligible])

	q.local = q.local[n:]
	q.remote = q.remote[n:]

	return committed, peekedLocal
}

// LenLocal returns the number of queued-but-not-yet-committed local inputs.
func (q *Queue[L, R]) LenLocal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.local)
}

// LenRemote returns the number of queued-but-not-yet-committed remote inputs.
func (q *Queue[L, R]) LenRemote() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.remote)
}
