package task

import (
	"errors"
	"testing"
)

func TestTargetValidate(t *testing.T) {
	if err := (Target{Command: "sleep", Args: []string{"1"}}).Validate(); err != nil {
		t.Errorf("Valid target rejected: %v", err)
	}
	if err := (Target{Command: "  "}).Validate(); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Expected ErrInvalidTarget, got %v", err)
	}
}

func TestRecordLifecycle(t *testing.T) {
	rec := NewRecord("job-1", Target{Command: "sleep"})

	if rec.Status() != StatusCreated {
		t.Fatalf("New record should be Created, got %s", rec.Status())
	}
	if rec.Handle() != nil {
		t.Fatal("New record should have no handle")
	}

	h := NewHandle(1234, "tok-1", nil, nil)
	if err := rec.StartAttempt(h); err != nil {
		t.Fatalf("Created -> Starting failed: %v", err)
	}
	if rec.Status() != StatusStarting {
		t.Fatalf("Expected Starting, got %s", rec.Status())
	}
	if rec.Handle() != h {
		t.Fatal("StartAttempt should install the handle")
	}

	if err := rec.Transition(StatusRunning); err != nil {
		t.Fatalf("Starting -> Running failed: %v", err)
	}
	info := rec.Info()
	if info.PID != 1234 {
		t.Errorf("Expected PID 1234 in info, got %d", info.PID)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt should be set once running")
	}

	if err := rec.Transition(StatusStopping); err != nil {
		t.Fatalf("Running -> Stopping failed: %v", err)
	}
	if err := rec.Transition(StatusStopped); err != nil {
		t.Fatalf("Stopping -> Stopped failed: %v", err)
	}

	// Terminal-for-now states drop the process handle.
	if rec.Handle() != nil {
		t.Error("Handle should be cleared once stopped")
	}
	if rec.Info().StoppedAt.IsZero() {
		t.Error("StoppedAt should be set once stopped")
	}
}

func TestRecordRejectsInvalidTransition(t *testing.T) {
	rec := NewRecord("job-2", Target{Command: "sleep"})
	if err := rec.Transition(StatusRunning); err == nil {
		t.Error("Created -> Running should be rejected")
	}
	if rec.Status() != StatusCreated {
		t.Errorf("Failed transition must not mutate status, got %s", rec.Status())
	}
}

func TestHandleExit(t *testing.T) {
	h := NewHandle(42, "tok", nil, nil)
	if h.Exited() {
		t.Fatal("Fresh handle should not be exited")
	}

	h.MarkExited(3, errors.New("exit status 3"))
	<-h.Done()

	if !h.Exited() {
		t.Error("Handle should report exited")
	}
	if h.ExitCode() != 3 {
		t.Errorf("Expected exit code 3, got %d", h.ExitCode())
	}

	// Only the first outcome wins.
	h.MarkExited(0, nil)
	if h.ExitCode() != 3 {
		t.Errorf("MarkExited must be one-shot, got %d", h.ExitCode())
	}
}
