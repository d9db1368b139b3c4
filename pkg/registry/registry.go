// Package registry provides the concurrency-safe map of task records. A
// registry-wide mutex guards structural mutation and snapshots; per-task
// keyed locks serialize lifecycle operations so unrelated tasks never
// contend.
package registry

import (
	"fmt"
	"sync"

	"github.com/psantana5/procbox/pkg/keylock"
	"github.com/psantana5/procbox/pkg/task"
)

// Registry maps task ids to records, preserving insertion order.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task.Record
	order []string
	locks *keylock.KeyLock
}

// New creates an empty registry with its own keyed-lock arena.
func New() *Registry {
	return &Registry{
		tasks: make(map[string]*task.Record),
		locks: keylock.NewKeyLock(),
	}
}

// Lock acquires the keyed lock serializing lifecycle and structural
// operations for one task id. Callers must release the returned handle.
func (r *Registry) Lock(id string) (keylock.Handle, error) {
	return r.locks.Acquire(id)
}

// Create inserts a new record in status Created. A duplicate id fails with
// ErrDuplicateTask without mutating existing state.
func (r *Registry) Create(id string, target task.Target) (*task.Record, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	h, err := r.Lock(id)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; exists {
		return nil, fmt.Errorf("%w: %s", task.ErrDuplicateTask, id)
	}

	rec := task.NewRecord(id, target)
	r.tasks[id] = rec
	r.order = append(r.order, id)
	return rec, nil
}

// Get returns the record for id or ErrTaskNotFound.
func (r *Registry) Get(id string) (*task.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return rec, nil
}

// Remove deletes the record for id. It fails with ErrTaskBusy while the task
// is starting, running, or stopping; a remove never races a start because
// both hold the task's keyed lock.
func (r *Registry) Remove(id string) error {
	h, err := r.Lock(id)
	if err != nil {
		return err
	}
	defer h.Release()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if task.IsActive(rec.Status()) {
		return fmt.Errorf("%w: %s is %s", task.ErrTaskBusy, id, rec.Status())
	}

	delete(r.tasks, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all task ids in insertion order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// SnapshotAll returns a consistent point-in-time view of every task. The
// registry lock is held only for the duration of the copy, so a snapshot
// never waits for an in-flight lifecycle operation.
func (r *Registry) SnapshotAll() []task.Info {
	r.mu.Lock()
	records := make([]*task.Record, 0, len(r.order))
	for _, id := range r.order {
		records = append(records, r.tasks[id])
	}
	r.mu.Unlock()

	infos := make([]task.Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, rec.Info())
	}
	return infos
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
