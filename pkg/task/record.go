// Package task defines the data entity describing one supervised task: its
// target, its lifecycle state machine, and the handle of its current worker
// process incarnation.
package task

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/procbox/pkg/procsig"
)

// Target is the opaque unit of work a task runs: a command line executed in
// its own OS process. The worker receives the start/stop signal paths through
// its environment in addition to Env.
type Target struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Validate checks that the target can be spawned.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidTarget)
	}
	return nil
}

// Handle owns the reference to one worker process incarnation. It is non-nil
// on a record exactly while the task is starting, running, or stopping.
type Handle struct {
	PID   int
	Token string // incarnation token; stale watcher callbacks compare it

	StartSignal *procsig.FileEvent
	StopSignal  *procsig.FileEvent

	confirmed atomic.Bool

	exitCh   chan struct{}
	exitOnce sync.Once
	exitCode int
	exitErr  error
}

// NewHandle creates a handle for a freshly spawned process.
func NewHandle(pid int, token string, start, stop *procsig.FileEvent) *Handle {
	return &Handle{
		PID:         pid,
		Token:       token,
		StartSignal: start,
		StopSignal:  stop,
		exitCh:      make(chan struct{}),
	}
}

// MarkExited records the process exit outcome and wakes all waiters. The
// supervisor's wait goroutine calls this exactly once.
func (h *Handle) MarkExited(code int, err error) {
	h.exitOnce.Do(func() {
		h.exitCode = code
		h.exitErr = err
		close(h.exitCh)
	})
}

// MarkStartConfirmed latches that the start-success signal was observed
// raised. The reaper records it before the incarnation's signal files are
// removed, so a worker that confirms and exits in quick succession still
// gets credit for the confirmation.
func (h *Handle) MarkStartConfirmed() {
	h.confirmed.Store(true)
}

// StartConfirmed reports whether the start-success signal was ever observed.
func (h *Handle) StartConfirmed() bool {
	return h.confirmed.Load()
}

// Done returns a channel closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.exitCh
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.exitCh:
		return true
	default:
		return false
	}
}

// ExitCode returns the recorded exit code. Only meaningful after Done.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// ExitErr returns the wait error, if any. Only meaningful after Done.
func (h *Handle) ExitErr() error {
	return h.exitErr
}

// Record describes one managed task and its runtime state. Lifecycle fields
// are mutated only while holding the task's keyed lock; the record's own
// mutex makes point-in-time reads safe against an in-flight mutation.
type Record struct {
	mu sync.RWMutex

	id     string
	target Target

	status    Status
	handle    *Handle
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time
	lastError string
}

// NewRecord creates a record in status Created.
func NewRecord(id string, target Target) *Record {
	return &Record{
		id:        id,
		target:    target,
		status:    StatusCreated,
		createdAt: time.Now(),
	}
}

// ID returns the immutable task identifier.
func (r *Record) ID() string {
	return r.id
}

// Target returns the unit of work this record re-launches on every start.
func (r *Record) Target() Target {
	return r.target
}

// Status returns the current lifecycle state.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Handle returns the current process handle, nil when not active.
func (r *Record) Handle() *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle
}

// Transition moves the record to a new state, enforcing the FSM.
func (r *Record) Transition(to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ValidateTransition(r.status, to); err != nil {
		return err
	}
	r.status = to
	switch to {
	case StatusRunning:
		r.startedAt = time.Now()
	case StatusStopped, StatusFailed:
		r.stoppedAt = time.Now()
		r.handle = nil
	}
	return nil
}

// StartAttempt atomically enters Starting with a freshly spawned
// incarnation's handle, so no reader ever observes an active status without
// a handle.
func (r *Record) StartAttempt(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ValidateTransition(r.status, StatusStarting); err != nil {
		return err
	}
	r.status = StatusStarting
	r.handle = h
	r.lastError = ""
	return nil
}

// SetLastError records a human-readable failure cause for observability.
func (r *Record) SetLastError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = msg
}

// Info is a point-in-time, caller-owned view of a record.
type Info struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Info returns a consistent snapshot of the record.
func (r *Record) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := Info{
		ID:        r.id,
		Status:    r.status,
		Command:   r.target.Command,
		CreatedAt: r.createdAt,
		StartedAt: r.startedAt,
		StoppedAt: r.stoppedAt,
		LastError: r.lastError,
	}
	if r.handle != nil {
		info.PID = r.handle.PID
	}
	return info
}
