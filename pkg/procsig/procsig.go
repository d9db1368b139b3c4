// Package procsig implements one-shot signal flags visible across process
// boundaries. The supervisor and its workers are different OS processes, so
// in-memory flags cannot carry the start-confirmation and stop-request
// handshake; file-backed events under a runtime directory can, and they
// survive either side crashing.
package procsig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// EnvStartSignal names the environment variable carrying the path of the
	// start-success event to a spawned worker.
	EnvStartSignal = "PROCBOX_START_SIGNAL"

	// EnvStopSignal names the environment variable carrying the path of the
	// stop-request event to a spawned worker.
	EnvStopSignal = "PROCBOX_STOP_SIGNAL"
)

// pollInterval bounds how stale an IsSet answer from Wait can be.
const pollInterval = 20 * time.Millisecond

var (
	// ErrSignalUnavailable is returned when the backing resource of a signal
	// cannot be created or the worker environment carries no signal paths.
	ErrSignalUnavailable = errors.New("signal unavailable")
)

// Signal is a one-shot, cross-process-visible flag. Set is idempotent; a
// signal never transitions back to unset within one incarnation.
type Signal interface {
	// Set raises the flag. Safe to call more than once.
	Set() error
	// Wait blocks until the flag is raised or the timeout elapses. It
	// returns true if the flag was observed raised.
	Wait(timeout time.Duration) bool
	// IsSet reports whether the flag is raised.
	IsSet() bool
}

// FileEvent is a Signal backed by the existence of a file. Creating the file
// raises the flag; any process that can stat the path observes it.
type FileEvent struct {
	path string
}

// NewFileEvent returns a file-backed signal at path. The parent directory
// must exist; creation failures surface on Set, not silently.
func NewFileEvent(path string) *FileEvent {
	return &FileEvent{path: path}
}

// Path returns the backing file path, as handed to workers via environment.
func (e *FileEvent) Path() string {
	return e.path
}

// Set raises the flag by creating the backing file.
func (e *FileEvent) Set() error {
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}
	return f.Close()
}

// IsSet reports whether the backing file exists.
func (e *FileEvent) IsSet() bool {
	_, err := os.Stat(e.path)
	return err == nil
}

// Wait polls for the backing file until it appears or timeout elapses.
func (e *FileEvent) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if e.IsSet() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}

// Clear removes the backing file so the next incarnation starts unset.
func (e *FileEvent) Clear() error {
	err := os.Remove(e.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FromEnv builds the worker-side signal handles from the environment set by
// the supervisor: the start-success event the worker must raise once
// initialized, and the stop-request event it must poll cooperatively.
func FromEnv() (start, stop Signal, err error) {
	startPath := os.Getenv(EnvStartSignal)
	stopPath := os.Getenv(EnvStopSignal)
	if startPath == "" || stopPath == "" {
		return nil, nil, fmt.Errorf("%w: %s/%s not set", ErrSignalUnavailable, EnvStartSignal, EnvStopSignal)
	}
	return NewFileEvent(startPath), NewFileEvent(stopPath), nil
}

// EventDir resolves the runtime directory for signal files, creating it if
// needed.
func EventDir(dir string) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "procbox-events")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create event directory %s: %v", ErrSignalUnavailable, dir, err)
	}
	return dir, nil
}

// MemEvent is an in-process Signal for tests and in-process targets.
type MemEvent struct {
	once sync.Once
	ch   chan struct{}
}

// NewMemEvent returns an unset in-process signal.
func NewMemEvent() *MemEvent {
	return &MemEvent{ch: make(chan struct{})}
}

// Set raises the flag.
func (e *MemEvent) Set() error {
	e.once.Do(func() { close(e.ch) })
	return nil
}

// IsSet reports whether the flag is raised.
func (e *MemEvent) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the flag is raised or timeout elapses.
func (e *MemEvent) Wait(timeout time.Duration) bool {
	select {
	case <-e.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
