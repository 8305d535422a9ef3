package dispatch

import (
	"sync"
	"time"
)

// Registry records every accepted task by id.
//
// Ids are random and may collide; a collision overwrites the older entry.
// Entries leave the registry when their result is collected (Forget) or when
// they are older than the TTL (Sweep).
type Registry struct {
	mu    sync.RWMutex
	tasks map[int64]*Task
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[int64]*Task),
		now:   time.Now,
	}
}

// Add records t under its id and returns the entry it replaced, if any.
func (r *Registry) Add(t *Task) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.tasks[t.ID]
	r.tasks[t.ID] = t
	return prev
}

// Revert undoes Add(t): prev is put back, or the id removed when prev is nil.
// It does nothing when the id no longer maps to t.
func (r *Registry) Revert(t, prev *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[t.ID] != t {
		return
	}
	if prev != nil {
		r.tasks[t.ID] = prev
	} else {
		delete(r.tasks, t.ID)
	}
}

// Get returns the task registered under id.
func (r *Registry) Get(id int64) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Forget removes id. Forgetting an unknown id is a no-op.
func (r *Registry) Forget(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Sweep removes entries submitted more than ttl ago and returns how many
// were removed. A non-positive ttl disables expiry.
func (r *Registry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.tasks {
		if t.SubmittedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
