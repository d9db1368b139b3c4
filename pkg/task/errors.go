package task

import "errors"

var (
	// ErrDuplicateTask is returned by create when the id already exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrTaskNotFound is returned when operating on an unknown id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskBusy is returned by remove while the task is starting, running,
	// or stopping.
	ErrTaskBusy = errors.New("task busy")

	// ErrTaskAlreadyRunning is returned by start on a running task.
	ErrTaskAlreadyRunning = errors.New("task already running")

	// ErrStartTimeout is returned when the worker does not confirm
	// initialization within the start timeout.
	ErrStartTimeout = errors.New("task start timeout")

	// ErrTaskCrashed is returned when the worker exits before confirming
	// initialization.
	ErrTaskCrashed = errors.New("task crashed")

	// ErrStopTimeout is returned when the graceful stop window elapsed and
	// forced termination was applied.
	ErrStopTimeout = errors.New("task stop timeout")

	// ErrInvalidTarget is returned by create for an unusable target.
	ErrInvalidTarget = errors.New("invalid target")
)
