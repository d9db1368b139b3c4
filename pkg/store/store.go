// Package store persists task summaries and their lifecycle transition
// journal for observability. The supervisor itself holds no durable task
// state; the store is a collaborator it reports into.
package store

import (
	"errors"
	"time"

	"github.com/psantana5/procbox/pkg/task"
)

var (
	// ErrNotFound is returned when no history exists for a task id.
	ErrNotFound = errors.New("task history not found")
)

// Transition is one recorded lifecycle state change.
type Transition struct {
	TaskID    string      `json:"task_id"`
	From      task.Status `json:"from"`
	To        task.Status `json:"to"`
	Reason    string      `json:"reason,omitempty"`
	PID       int         `json:"pid,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Store defines the interface for task history persistence.
// Both SQLiteStore and MemoryStore implement this interface.
type Store interface {
	SaveTask(info task.Info) error
	GetTask(id string) (task.Info, error)
	GetAllTasks() []task.Info
	DeleteTask(id string) error

	AddTransition(tr Transition) error
	GetTransitions(taskID string) ([]Transition, error)

	// Prune deletes journal entries older than retention and returns how
	// many were removed.
	Prune(retention time.Duration) (int, error)
	Vacuum() error

	Close() error
}

// Config holds history store configuration.
type Config struct {
	Type string // "sqlite" or "memory"
	Path string // database file for sqlite
}

// NewStore creates a store based on configuration.
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "procbox.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unsupported store type: " + config.Type)
	}
}

// Ensure both implementations satisfy the interface
var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
