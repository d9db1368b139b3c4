// Package supervisor orchestrates task lifecycles: it spawns worker
// processes, confirms their initialization through cross-process signals,
// requests cooperative shutdown, and escalates to forced termination when a
// worker overruns its window. Every blocking wait is timeout-bounded by
// construction; a hung worker can never stall the supervisor indefinitely.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/procbox/pkg/logging"
	"github.com/psantana5/procbox/pkg/metrics"
	"github.com/psantana5/procbox/pkg/procsig"
	"github.com/psantana5/procbox/pkg/registry"
	"github.com/psantana5/procbox/pkg/store"
	"github.com/psantana5/procbox/pkg/task"
)

const (
	// DefaultTimeout bounds start and stop operations when the caller does
	// not supply a timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultGracePeriod bounds how long the supervisor waits for OS-level
	// reclamation after forced termination.
	DefaultGracePeriod = 2 * time.Second

	// confirmPoll is the interval at which a pending start re-checks the
	// start-success signal.
	confirmPoll = 20 * time.Millisecond
)

// Options configures a Supervisor.
type Options struct {
	// EventDir is the runtime directory for cross-process signal files.
	// Empty selects a directory under the OS temp dir.
	EventDir string

	// TaskLogDir, when set, routes worker stdout/stderr to
	// <TaskLogDir>/<id>.log. Empty discards worker output.
	TaskLogDir string

	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration

	Logger  *logging.Logger
	History store.Store        // optional transition journal
	Metrics *metrics.Collector // optional
}

// Result is the per-task outcome of an aggregate operation.
type Result struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
	Err    error       `json:"-"`
}

// Supervisor owns a registry of named tasks and drives each through its
// lifecycle. It has an explicit lifecycle of its own: New then Shutdown.
type Supervisor struct {
	reg        *registry.Registry
	eventDir   string
	taskLogDir string
	grace      time.Duration
	logger     *logging.Logger
	history    store.Store
	metrics    *metrics.Collector

	mu       sync.Mutex
	closed   bool
	watchers sync.WaitGroup
}

// New creates a supervisor. The event directory is created eagerly so that a
// missing runtime path fails construction, not the first start.
func New(opts Options) (*Supervisor, error) {
	eventDir, err := procsig.EventDir(opts.EventDir)
	if err != nil {
		return nil, err
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Supervisor{
		reg:        registry.New(),
		eventDir:   eventDir,
		taskLogDir: opts.TaskLogDir,
		grace:      grace,
		logger:     logger,
		history:    opts.History,
		metrics:    opts.Metrics,
	}, nil
}

// Create registers a new task in status Created. A duplicate id fails with
// ErrDuplicateTask without touching the existing record.
func (s *Supervisor) Create(id string, target task.Target) (task.Info, error) {
	if err := s.checkOpen(); err != nil {
		return task.Info{}, err
	}
	rec, err := s.reg.Create(id, target)
	if err != nil {
		return task.Info{}, err
	}

	info := rec.Info()
	s.logger.Info("Task created", map[string]interface{}{"task": id, "command": target.Command})
	if s.history != nil {
		_ = s.history.SaveTask(info)
	}
	s.observeStatuses()
	return info, nil
}

// Start launches the task's worker process and blocks until the worker
// confirms initialization, it exits prematurely, or the timeout elapses.
// Requires status Created, Stopped, or Failed; starting a running task fails
// with ErrTaskAlreadyRunning and no side effects.
func (s *Supervisor) Start(id string, timeout time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	lh, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer lh.Release()

	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	return s.startLocked(rec, timeout)
}

// Stop requests cooperative shutdown and blocks until the worker exits or
// the timeout elapses, escalating to forced termination on overrun.
// Stopping a task that is not running is a no-op success.
func (s *Supervisor) Stop(id string, timeout time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	lh, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer lh.Release()

	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	return s.stopLocked(rec, timeout)
}

// Restart stops the task if it is running, then starts it again, re-using
// the record's own target. Each phase gets the full timeout budget; a failed
// stop aborts the restart.
func (s *Supervisor) Restart(id string, timeout time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	lh, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer lh.Release()

	rec, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if err := s.stopLocked(rec, timeout); err != nil {
		return err
	}
	return s.startLocked(rec, timeout)
}

// Remove deletes the task record. It fails with ErrTaskBusy while the task
// is starting, running, or stopping.
func (s *Supervisor) Remove(id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.reg.Remove(id); err != nil {
		return err
	}
	s.logger.Info("Task removed", map[string]interface{}{"task": id})
	s.observeStatuses()
	return nil
}

// Info returns a point-in-time view of one task.
func (s *Supervisor) Info(id string) (task.Info, error) {
	rec, err := s.reg.Get(id)
	if err != nil {
		return task.Info{}, err
	}
	return rec.Info(), nil
}

// InfoAll returns a consistent snapshot of every task in insertion order.
// It never blocks on an in-flight lifecycle operation.
func (s *Supervisor) InfoAll() []task.Info {
	return s.reg.SnapshotAll()
}

// ListIDs returns all task ids in insertion order.
func (s *Supervisor) ListIDs() []string {
	return s.reg.List()
}

// StopAll stops every task currently running. Per-task stops run
// independently, so one unresponsive task's escalation does not delay the
// others; the call returns in roughly timeout plus the grace period.
func (s *Supervisor) StopAll(timeout time.Duration) []Result {
	var running []string
	for _, info := range s.reg.SnapshotAll() {
		if info.Status == task.StatusRunning {
			running = append(running, info.ID)
		}
	}

	results := make([]Result, len(running))
	g := new(errgroup.Group)
	for i, id := range running {
		i, id := i, id
		g.Go(func() error {
			err := s.Stop(id, timeout)
			res := Result{ID: id, Err: err}
			if info, ierr := s.Info(id); ierr == nil {
				res.Status = info.Status
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Shutdown stops all running tasks and waits for the exit watchers to
// drain. Further operations fail after Shutdown returns.
func (s *Supervisor) Shutdown(timeout time.Duration) []Result {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	results := s.StopAll(timeout)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.watchers.Wait()
	return results
}

func (s *Supervisor) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("supervisor is shut down")
	}
	return nil
}

// startLocked runs the start state machine. Caller holds the task's keyed
// lock, so the observed status is steady.
func (s *Supervisor) startLocked(rec *task.Record, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := rec.ID()

	switch st := rec.Status(); {
	case st == task.StatusRunning:
		// A worker that died without a lifecycle operation observing it yet
		// is reaped here so that start behaves like start-after-crash.
		h := rec.Handle()
		if h == nil || !h.Exited() {
			return fmt.Errorf("%w: %s", task.ErrTaskAlreadyRunning, id)
		}
		s.reapExited(rec, h)
	case !task.IsStartable(st):
		return fmt.Errorf("%w: %s is %s", task.ErrTaskBusy, id, st)
	}

	from := rec.Status()
	h, err := s.spawn(rec)
	if err != nil {
		_ = rec.Transition(task.StatusStarting)
		rec.SetLastError(err.Error())
		_ = rec.Transition(task.StatusFailed)
		s.journal(id, from, task.StatusStarting, "start requested", 0)
		s.journal(id, task.StatusStarting, task.StatusFailed, err.Error(), 0)
		s.metrics.TaskCrashed()
		s.observeStatuses()
		return err
	}
	if err := rec.StartAttempt(h); err != nil {
		killGroup(h.PID)
		return err
	}
	s.journal(id, from, task.StatusStarting, "start requested", h.PID)
	s.logger.Info("Worker spawned", map[string]interface{}{"task": id, "pid": h.PID})

	began := time.Now()
	deadline := began.Add(timeout)
	ticker := time.NewTicker(confirmPoll)
	defer ticker.Stop()

	for {
		if h.StartSignal.IsSet() {
			if err := rec.Transition(task.StatusRunning); err != nil {
				return err
			}
			elapsed := time.Since(began)
			s.journal(id, task.StatusStarting, task.StatusRunning, "start confirmed", h.PID)
			s.metrics.TaskStarted(elapsed.Seconds())
			s.observeStatuses()
			s.logger.Info("Task running", map[string]interface{}{
				"task": id, "pid": h.PID, "confirm_ms": elapsed.Milliseconds(),
			})
			s.watchers.Add(1)
			go s.watch(id, h)
			return nil
		}

		select {
		case <-h.Done():
			if h.StartConfirmed() {
				// Confirmed start and then exited before the poll observed
				// it. The start succeeded; the exit is reaped like any
				// unexpected death.
				if err := rec.Transition(task.StatusRunning); err != nil {
					return err
				}
				elapsed := time.Since(began)
				s.journal(id, task.StatusStarting, task.StatusRunning, "start confirmed", h.PID)
				s.metrics.TaskStarted(elapsed.Seconds())
				s.logger.Info("Task running", map[string]interface{}{
					"task": id, "pid": h.PID, "confirm_ms": elapsed.Milliseconds(),
				})
				s.reapExited(rec, h)
				return nil
			}
			// Exited before confirming start. Reap any surviving group
			// members, then report the crash.
			killGroup(h.PID)
			msg := fmt.Sprintf("worker exited with code %d before confirming start", h.ExitCode())
			rec.SetLastError(msg)
			_ = rec.Transition(task.StatusFailed)
			s.journal(id, task.StatusStarting, task.StatusFailed, msg, h.PID)
			s.metrics.TaskCrashed()
			s.observeStatuses()
			s.logger.Error("Task crashed during start", map[string]interface{}{"task": id, "code": h.ExitCode()})
			return fmt.Errorf("%w: %s: %s", task.ErrTaskCrashed, id, msg)
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			s.terminate(h)
			msg := fmt.Sprintf("no start confirmation within %s", timeout)
			rec.SetLastError(msg)
			_ = rec.Transition(task.StatusFailed)
			s.journal(id, task.StatusStarting, task.StatusFailed, msg, h.PID)
			s.metrics.TaskCrashed()
			s.observeStatuses()
			s.logger.Error("Task start timed out", map[string]interface{}{"task": id, "timeout": timeout.String()})
			return fmt.Errorf("%w: %s: %s", task.ErrStartTimeout, id, msg)
		}
	}
}

// stopLocked runs the stop state machine. Caller holds the task's keyed
// lock. Stopping anything that is not running succeeds without side effects.
func (s *Supervisor) stopLocked(rec *task.Record, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := rec.ID()

	if rec.Status() != task.StatusRunning {
		return nil
	}
	h := rec.Handle()
	if h == nil {
		return nil
	}
	if h.Exited() {
		// Died on its own; the exit watcher lost the lock race to us.
		s.reapExited(rec, h)
		return nil
	}

	if err := rec.Transition(task.StatusStopping); err != nil {
		return err
	}
	s.journal(id, task.StatusRunning, task.StatusStopping, "stop requested", h.PID)
	began := time.Now()

	if err := h.StopSignal.Set(); err != nil {
		// Cooperative channel unavailable; the worker may still exit on its
		// own, otherwise the timed wait below ends in escalation.
		s.logger.Warn("Stop signal could not be raised", map[string]interface{}{"task": id, "error": err.Error()})
	}

	select {
	case <-h.Done():
		_ = rec.Transition(task.StatusStopped)
		s.journal(id, task.StatusStopping, task.StatusStopped, "worker exited", h.PID)
		s.metrics.TaskStopped(time.Since(began).Seconds())
		s.observeStatuses()
		s.logger.Info("Task stopped", map[string]interface{}{"task": id, "pid": h.PID})
		return nil
	case <-time.After(timeout):
	}

	// Escalation: forced termination plus a bounded grace wait. Never block
	// past the grace period even if the OS cannot confirm the kill.
	s.terminate(h)
	msg := fmt.Sprintf("no voluntary exit within %s, forced termination applied", timeout)
	rec.SetLastError(msg)
	_ = rec.Transition(task.StatusFailed)
	s.journal(id, task.StatusStopping, task.StatusFailed, msg, h.PID)
	s.metrics.StopEscalated()
	s.observeStatuses()
	s.logger.Error("Task stop timed out", map[string]interface{}{"task": id, "pid": h.PID})
	return fmt.Errorf("%w: %s: %s", task.ErrStopTimeout, id, msg)
}

// reapExited resolves a running task whose worker already exited, using the
// recorded exit code. Caller holds the keyed lock.
func (s *Supervisor) reapExited(rec *task.Record, h *task.Handle) {
	id := rec.ID()
	if h.ExitCode() == 0 {
		_ = rec.Transition(task.StatusStopped)
		s.journal(id, task.StatusRunning, task.StatusStopped, "worker exited on its own", h.PID)
	} else {
		msg := fmt.Sprintf("worker exited with code %d", h.ExitCode())
		rec.SetLastError(msg)
		_ = rec.Transition(task.StatusFailed)
		s.journal(id, task.StatusRunning, task.StatusFailed, msg, h.PID)
	}
	s.observeStatuses()
}

// watch reaps a worker that exits while Running without a stop in flight.
func (s *Supervisor) watch(id string, h *task.Handle) {
	defer s.watchers.Done()
	<-h.Done()

	lh, err := s.reg.Lock(id)
	if err != nil {
		return
	}
	defer lh.Release()

	rec, err := s.reg.Get(id)
	if err != nil {
		return
	}
	// A stop or restart may have resolved this incarnation while we waited
	// for the lock; the handle comparison makes stale callbacks no-ops.
	if rec.Handle() != h || rec.Status() != task.StatusRunning {
		return
	}
	s.reapExited(rec, h)
	s.logger.Warn("Worker exited unexpectedly", map[string]interface{}{
		"task": id, "pid": h.PID, "code": h.ExitCode(),
	})
}

func (s *Supervisor) journal(id string, from, to task.Status, reason string, pid int) {
	if s.history == nil {
		return
	}
	_ = s.history.AddTransition(store.Transition{
		TaskID:    id,
		From:      from,
		To:        to,
		Reason:    reason,
		PID:       pid,
		Timestamp: time.Now(),
	})
	if rec, err := s.reg.Get(id); err == nil {
		_ = s.history.SaveTask(rec.Info())
	}
}

func (s *Supervisor) observeStatuses() {
	s.metrics.ObserveStatuses(s.reg.SnapshotAll())
}
