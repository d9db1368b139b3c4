package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/procbox/pkg/task"
)

// MemoryStore is an in-memory implementation of the history store, used in
// tests and when persistence is not wanted.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]task.Info
	order       []string
	transitions []Transition
}

// NewMemoryStore creates a new in-memory history store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]task.Info)}
}

// SaveTask inserts or updates a task summary
func (s *MemoryStore) SaveTask(info task.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[info.ID]; !exists {
		s.order = append(s.order, info.ID)
	}
	s.tasks[info.ID] = info
	return nil
}

// GetTask retrieves a task summary by ID
func (s *MemoryStore) GetTask(id string) (task.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tasks[id]
	if !ok {
		return task.Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

// GetAllTasks returns all task summaries in insertion order
func (s *MemoryStore) GetAllTasks() []task.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]task.Info, 0, len(s.order))
	for _, id := range s.order {
		infos = append(infos, s.tasks[id])
	}
	return infos
}

// DeleteTask removes a task summary and its journal entries
func (s *MemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.tasks, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.transitions[:0]
	for _, tr := range s.transitions {
		if tr.TaskID != id {
			kept = append(kept, tr)
		}
	}
	s.transitions = kept
	return nil
}

// AddTransition appends a lifecycle state change to the journal
func (s *MemoryStore) AddTransition(tr Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}
	s.transitions = append(s.transitions, tr)
	return nil
}

// GetTransitions returns the journal for one task in insertion order
func (s *MemoryStore) GetTransitions(taskID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trs []Transition
	for _, tr := range s.transitions {
		if tr.TaskID == taskID {
			trs = append(trs, tr)
		}
	}
	return trs, nil
}

// Prune deletes journal entries older than retention
func (s *MemoryStore) Prune(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	kept := make([]Transition, 0, len(s.transitions))
	removed := 0
	for _, tr := range s.transitions {
		if tr.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, tr)
	}
	s.transitions = kept
	return removed, nil
}

// Vacuum is a no-op for the in-memory store
func (s *MemoryStore) Vacuum() error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
