package pipeline

import (
	"bothive/engine/internal/locking"
)

// applyRing is the bounded handoff between workers and the main-thread
// drain. Push never blocks; a full ring rejects the task and the worker
// fails it rather than stalling.
type applyRing struct {
	mu       *locking.Mutex
	tasks    []*Task
	head     int
	length   int
	capacity int
}

func newApplyRing(capacity int) *applyRing {
	if capacity < 1 {
		capacity = 1
	}
	return &applyRing{
		mu:       locking.NewMutex(locking.LayerCreationQueue),
		tasks:    make([]*Task, capacity),
		capacity: capacity,
	}
}

// Push appends the task, reporting false when the ring is full.
func (r *applyRing) Push(task *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.length == r.capacity {
		return false
	}
	r.tasks[(r.head+r.length)%r.capacity] = task
	r.length++
	return true
}

// PopN removes up to max tasks in FIFO order.
func (r *applyRing) PopN(max int) []*Task {
	if max <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := max
	if n > r.length {
		n = r.length
	}
	if n == 0 {
		return nil
	}
	out := make([]*Task, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.tasks[r.head])
		r.tasks[r.head] = nil
		r.head = (r.head + 1) % r.capacity
	}
	r.length -= n
	return out
}

// Len reports the number of tasks awaiting apply.
func (r *applyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Free reports remaining capacity.
func (r *applyRing) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity - r.length
}
